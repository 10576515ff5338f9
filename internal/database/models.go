package database

import "time"

// FileRecord is a single persisted workspace file. (SessionID, Path) is
// unique: saving an existing path overwrites content and bumps UpdatedAt.
// Paths are workspace-relative with forward-slash separators. Folders have
// no independent existence; they are inferred from a "<dir>/.folder"
// placeholder or from contained files.
type FileRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"not null;size:128;uniqueIndex:idx_session_path" json:"session_id"`
	Path      string    `gorm:"not null;size:512;uniqueIndex:idx_session_path" json:"path"`
	Content   []byte    `json:"-"`
	Size      int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
