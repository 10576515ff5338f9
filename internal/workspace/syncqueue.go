package workspace

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/manavgt54/AI-IDE/internal/database"
	"github.com/manavgt54/AI-IDE/internal/logutil"
)

// TaskOp identifies a disk-to-DB propagation operation.
type TaskOp int

const (
	// OpUpsert reads the on-disk file and upserts a matching record. A file
	// that does not exist yet is persisted as empty (a `touch` may still be
	// in flight when the task runs).
	OpUpsert TaskOp = iota
	// OpMkdir creates the zero-byte "<dir>/.folder" placeholder record.
	OpMkdir
	// OpDelete removes exactly one file record.
	OpDelete
	// OpDeleteTree removes every record under the path prefix, including
	// the folder placeholder.
	OpDeleteTree
)

type syncTask struct {
	op        TaskOp
	sessionID string
	path      string
	notBefore time.Time
	seq       uint64
	attempts  int
}

// SyncQueue propagates shell-driven filesystem mutations to the database in
// the background. Tasks are keyed by (session, path): a newer task for the
// same key replaces a pending older one, so a retry can never reorder ahead
// of a newer write. Delivery is at-least-once; execution failures are logged
// and retried once, then left to the reconciliation pass. The queue never
// blocks PTY input.
type SyncQueue struct {
	mu      sync.Mutex
	pending map[string]*syncTask
	nextSeq uint64
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// NewSyncQueue creates the queue and starts its single worker goroutine.
func NewSyncQueue() *SyncQueue {
	q := &SyncQueue{
		pending: make(map[string]*syncTask),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules a propagation task. delay postpones execution (used for
// `touch`, giving the shell time to complete the operation first).
func (q *SyncQueue) Enqueue(op TaskOp, sessionID, path string, delay time.Duration) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.nextSeq++
	key := sessionID + "\x00" + path
	q.pending[key] = &syncTask{
		op:        op,
		sessionID: sessionID,
		path:      path,
		notBefore: time.Now().Add(delay),
		seq:       q.nextSeq,
	}
	q.mu.Unlock()
	q.signal()
}

// Stop shuts down the worker. Pending tasks are abandoned; the next
// reconciliation pass covers anything lost.
func (q *SyncQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

// Len returns the number of pending tasks.
func (q *SyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *SyncQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *SyncQueue) run() {
	defer close(q.done)
	for {
		task, key := q.next()
		if task == nil {
			return
		}
		if err := q.execute(task); err != nil {
			log.Printf("workspace: sync %s %s: %v",
				logutil.SanitizeForLog(task.sessionID), logutil.SanitizeForLog(task.path), err)
			q.retry(key, task)
		}
	}
}

// next blocks until a task is due or the queue stops. It removes the due
// task with the lowest sequence number and returns it; nil means stopped.
func (q *SyncQueue) next() (*syncTask, string) {
	for {
		q.mu.Lock()
		var (
			bestKey  string
			best     *syncTask
			earliest time.Time
		)
		now := time.Now()
		for key, t := range q.pending {
			if !t.notBefore.After(now) {
				if best == nil || t.seq < best.seq {
					best, bestKey = t, key
				}
			} else if earliest.IsZero() || t.notBefore.Before(earliest) {
				earliest = t.notBefore
			}
		}
		if best != nil {
			delete(q.pending, bestKey)
			q.mu.Unlock()
			return best, bestKey
		}
		if q.stopped {
			q.mu.Unlock()
			return nil, ""
		}
		q.mu.Unlock()

		if earliest.IsZero() {
			<-q.wake
			continue
		}
		// A task exists but is not due yet: wake at its deadline or on a
		// new enqueue/stop, whichever comes first.
		timer := time.NewTimer(time.Until(earliest))
		select {
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// retry requeues a failed task once, unless a newer task for the same key
// arrived while it executed.
func (q *SyncQueue) retry(key string, task *syncTask) {
	q.mu.Lock()
	if q.stopped || task.attempts >= 1 {
		q.mu.Unlock()
		return
	}
	if existing, ok := q.pending[key]; ok && existing.seq > task.seq {
		q.mu.Unlock()
		return
	}
	task.attempts++
	task.notBefore = time.Now().Add(2 * time.Second)
	q.pending[key] = task
	q.mu.Unlock()
	q.signal()
}

func (q *SyncQueue) execute(t *syncTask) error {
	switch t.op {
	case OpMkdir:
		err := database.SaveFile(t.sessionID, t.path+"/.folder", []byte{})
		if errors.Is(err, database.ErrExcludedPath) {
			return nil
		}
		return err

	case OpUpsert:
		full := filepath.Join(SessionRoot(t.sessionID), filepath.FromSlash(t.path))
		content, err := os.ReadFile(full)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			content = []byte{}
		}
		err = database.SaveFile(t.sessionID, t.path, content)
		if errors.Is(err, database.ErrExcludedPath) || errors.Is(err, database.ErrFileTooLarge) {
			// Not persistable; fine for shell-driven files.
			return nil
		}
		return err

	case OpDelete:
		return database.DeleteFileByName(t.sessionID, t.path)

	case OpDeleteTree:
		return database.DeleteFolder(t.sessionID, t.path)
	}
	return nil
}
