package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manavgt54/AI-IDE/internal/config"
	"github.com/manavgt54/AI-IDE/internal/jail"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Sentinel errors returned by the file store.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrInvalidPath  = errors.New("invalid path")
	ErrFileTooLarge = errors.New("file exceeds maximum persisted size")
	ErrExcludedPath = errors.New("path is inside an excluded directory")
)

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&FileRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// SaveFile upserts a file record for (sessionID, path). The upsert is a
// single ON CONFLICT statement so concurrent saves to the same key cannot
// interleave into corrupted content (last write wins). Content larger than
// the configured maximum, or paths under an excluded directory, are rejected
// with a sentinel error so callers can decide whether that is fatal.
func SaveFile(sessionID, path string, content []byte) error {
	rel, ok := jail.CleanRel(path)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if max := config.Cfg.MaxFileSize; max > 0 && int64(len(content)) > max {
		return fmt.Errorf("%w: %q (%d bytes)", ErrFileTooLarge, rel, len(content))
	}
	if isExcluded(rel) {
		return fmt.Errorf("%w: %q", ErrExcludedPath, rel)
	}

	rec := FileRecord{
		SessionID: sessionID,
		Path:      rel,
		Content:   content,
		Size:      int64(len(content)),
	}
	return DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "size", "updated_at"}),
	}).Create(&rec).Error
}

// ReadFileByName returns the stored content for (sessionID, path), or
// ErrFileNotFound if no such record exists.
func ReadFileByName(sessionID, path string) ([]byte, error) {
	rel, ok := jail.CleanRel(path)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	var rec FileRecord
	if err := DB.Where("session_id = ? AND path = ?", sessionID, rel).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrFileNotFound, rel)
		}
		return nil, err
	}
	return rec.Content, nil
}

// ListFilesBySession returns all file records for a session, content included,
// ordered by path.
func ListFilesBySession(sessionID string) ([]FileRecord, error) {
	var recs []FileRecord
	if err := DB.Where("session_id = ?", sessionID).Order("path").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteFileByName removes exactly one file record.
func DeleteFileByName(sessionID, path string) error {
	rel, ok := jail.CleanRel(path)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return DB.Where("session_id = ? AND path = ?", sessionID, rel).Delete(&FileRecord{}).Error
}

// DeleteFolder removes every record whose path is prefixed by "folder/",
// including the folder's ".folder" placeholder. Unrelated records whose
// paths merely share the folder name as a string prefix are untouched.
func DeleteFolder(sessionID, folder string) error {
	rel, ok := jail.CleanRel(folder)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPath, folder)
	}
	rel = strings.TrimSuffix(rel, "/")
	return DB.Where("session_id = ? AND (path = ? OR path LIKE ? ESCAPE '\\')",
		sessionID, rel, escapeLike(rel)+"/%").Delete(&FileRecord{}).Error
}

// escapeLike escapes LIKE metacharacters so folder names containing "_" or
// "%" match literally instead of as wildcards.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DeleteSession removes every file record belonging to a session.
func DeleteSession(sessionID string) error {
	return DB.Where("session_id = ?", sessionID).Delete(&FileRecord{}).Error
}

// isExcluded reports whether any path segment is in the configured
// persistence exclusion list (node_modules, .git, build artifacts, ...).
func isExcluded(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		for _, ex := range config.Cfg.ExcludeDirs {
			if seg == ex {
				return true
			}
		}
	}
	return false
}
