package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRole reports whether role is admin or member.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}

type Member struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Household groups users sharing one pantry. MemberUserIDs always equals the
// set of Members[].UserID.
type Household struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreatedBy     string    `json:"created_by"`
	Members       []Member  `json:"members"`
	MemberUserIDs []string  `json:"member_user_ids"`
	InviteCode    string    `json:"invite_code"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Member returns the membership for userID, or nil.
func (h *Household) Member(userID string) *Member {
	for i := range h.Members {
		if h.Members[i].UserID == userID {
			return &h.Members[i]
		}
	}
	return nil
}

func (h *Household) IsAdmin(userID string) bool {
	m := h.Member(userID)
	return m != nil && m.Role == RoleAdmin
}

func (h *Household) AdminCount() int {
	n := 0
	for _, m := range h.Members {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}
