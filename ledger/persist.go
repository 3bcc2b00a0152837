package ledger

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const (
	snapshotMagic   = uint32(0x4C444752) // "LDGR"
	snapshotVersion = uint32(1)
	snapshotSize    = 4 + 4 + 8 + 8
)

// Save writes a snapshot of the ledger to path with restricted
// permissions so the timestamps survive a process restart.
func (l *ActivityLedger) Save(path string) error {
	buf := make([]byte, snapshotSize)
	binary.BigEndian.PutUint32(buf[0:4], snapshotMagic)
	binary.BigEndian.PutUint32(buf[4:8], snapshotVersion)
	binary.BigEndian.PutUint64(buf[8:16], uint64(l.lastActivity.Load()))
	binary.BigEndian.PutUint64(buf[16:24], uint64(l.lastReauth.Load()))

	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("failed to save ledger snapshot: %w", err)
	}
	return nil
}

// Load reads a previously saved snapshot. A missing file is not an
// error and yields a fresh ledger; a corrupted file is rejected.
func Load(path string) (*ActivityLedger, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"path": path,
			}).Debug("No ledger snapshot found, starting fresh")
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	if len(buf) != snapshotSize {
		return nil, fmt.Errorf("ledger snapshot corrupted: %d bytes, want %d", len(buf), snapshotSize)
	}
	if binary.BigEndian.Uint32(buf[0:4]) != snapshotMagic {
		return nil, fmt.Errorf("ledger snapshot corrupted: bad magic")
	}
	if v := binary.BigEndian.Uint32(buf[4:8]); v != snapshotVersion {
		return nil, fmt.Errorf("unsupported ledger snapshot version %d", v)
	}

	l := New()
	l.lastActivity.Store(int64(binary.BigEndian.Uint64(buf[8:16])))
	l.lastReauth.Store(int64(binary.BigEndian.Uint64(buf[16:24])))
	return l, nil
}
