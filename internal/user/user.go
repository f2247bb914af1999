package user

import "time"

// User holds the addressing-relevant part of an account.
type User struct {
	ID        int       `json:"id"`
	Handle    string    `json:"handle"`
	RealName  string    `json:"realName"`
	Email     string    `json:"email,omitempty"` // External address for internet-gateway forwarding
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Raw forwarding fields as stored on disk; decode with forward.DecodeLink.
	ForwardUser    int `json:"forwardUser,omitempty"`
	ForwardSystem  int `json:"forwardSystem,omitempty"`
	ForwardNetwork int `json:"forwardNetwork,omitempty"`

	// FTN node text for a forward into an FTN network.
	ForwardNode string `json:"forwardNode,omitempty"`

	// Soft Delete (user marked as deleted but data preserved)
	DeletedUser bool       `json:"deletedUser,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the account has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u != nil && u.DeletedUser
}
