// Package domain defines the persisted entities of the notes backend
// (users, conversation turns, branch links and feedback) together with
// their GORM mappings.
package domain

import (
	"time"
)

// User is an internal account mapped 1:1 to an external identity (UID).
type User struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UID       string    `json:"uid"        gorm:"type:varchar(128);not null;uniqueIndex:ux_users_uid"`
	Email     string    `json:"email"      gorm:"type:varchar(320)"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

// Turn is one exchange in a conversation tree: the human message, the
// generated reply (nil until produced) and the links to its parent, its
// primary child and its branched children.
//
// BranchedChildIDs is not a column; it is hydrated from turn_branches in
// append order by the repo layer.
type Turn struct {
	ID             string    `json:"id"                         gorm:"type:char(36);primaryKey"`
	CreatedAt      time.Time `json:"created_at"                 gorm:"not null;index:idx_user_turns,priority:2"`
	UpdatedAt      time.Time `json:"updated_at"`
	UserID         string    `json:"user_id"                    gorm:"type:char(36);not null;index:idx_user_turns,priority:1"`
	HumanText      string    `json:"human_text"                 gorm:"type:text;not null"`
	BotText        *string   `json:"bot_text"                   gorm:"type:text"`
	Model          *string   `json:"model,omitempty"            gorm:"type:varchar(64)"`
	Title          string    `json:"title"                      gorm:"type:varchar(255);not null"`
	ParentID       *string   `json:"parent_id"                  gorm:"type:char(36);index:idx_turn_parent"`
	PrimaryChildID *string   `json:"primary_child_id"           gorm:"type:char(36)"`

	BranchedChildIDs []string `json:"branched_child_ids" gorm:"-"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Turn) TableName() string { return "turns" }

// IsRoot reports whether the turn anchors a conversation.
func (t *Turn) IsRoot() bool { return t.ParentID == nil }

// TurnBranch records that ChildID branches off ParentID. Position keeps the
// append order of a parent's branched children. A child can be the branch of
// at most one parent.
type TurnBranch struct {
	ParentID  string    `gorm:"type:char(36);primaryKey;index:idx_branch_parent_pos,priority:1"`
	ChildID   string    `gorm:"type:char(36);primaryKey;uniqueIndex:ux_turn_branches_child"`
	Position  int       `gorm:"not null;index:idx_branch_parent_pos,priority:2"`
	CreatedAt time.Time `gorm:"not null"`

	Parent Turn `gorm:"foreignKey:ParentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Child  Turn `gorm:"foreignKey:ChildID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (TurnBranch) TableName() string { return "turn_branches" }

// Feedback is a +1/-1 rating left by the owner on a turn's generated reply.
type Feedback struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	TurnID    string    `json:"turn_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_turn_user"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_turn_user"`
	Value     int       `json:"value"      gorm:"not null;check:value IN (-1,1)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Turn Turn `json:"-" gorm:"foreignKey:TurnID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Feedback) TableName() string { return "feedback" }
