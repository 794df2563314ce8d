package telemetry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// FileMode restricts the event log to the owner.
	FileMode = 0600
	DirMode  = 0700

	logFileName   = "events.jsonl"
	stateFileName = "chain.state"
)

// chainedEvent is the on-disk representation: the event plus an HMAC chain
// for tamper detection.
type chainedEvent struct {
	Event
	Sequence int64  `json:"seq"`
	PrevHMAC string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHMAC string `json:"prev"`
}

// FileSink appends events to a JSONL file, chaining each record to its
// predecessor with an HMAC so truncation or edits are detectable.
type FileSink struct {
	path     string
	hmacKey  []byte
	mu       sync.Mutex
	sequence int64
	prevHMAC string
}

// DeriveSinkKey derives the sink's HMAC key from the vault working key using
// HKDF-SHA256, so the event log is verifiable by anyone holding the vault
// key without reusing it directly.
func DeriveSinkKey(workingKey []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, workingKey, nil, []byte("telemetry-log-v1"))
	key := make([]byte, 32)
	if _, err := r.Read(key); err != nil {
		return nil, fmt.Errorf("telemetry: failed to derive sink key: %w", err)
	}
	return key, nil
}

// NewFileSink creates a file sink rooted at dir. Chain state is restored
// from a previous run when present.
func NewFileSink(dir string, hmacKey []byte) (*FileSink, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("telemetry: failed to create directory: %w", err)
	}
	s := &FileSink{path: dir, hmacKey: hmacKey, prevHMAC: "genesis"}
	if data, err := os.ReadFile(filepath.Join(dir, stateFileName)); err == nil {
		var st chainState
		if json.Unmarshal(data, &st) == nil && st.PrevHMAC != "" {
			s.sequence = st.Sequence
			s.prevHMAC = st.PrevHMAC
		}
	}
	return s, nil
}

// Record appends the event to the log. Failures are reported on stderr;
// telemetry must never fail the storage operation it describes.
func (s *FileSink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	s.sequence++
	rec := chainedEvent{Event: e, Sequence: s.sequence, PrevHMAC: s.prevHMAC}
	rec.HMAC = s.recordHMAC(&rec)
	s.prevHMAC = rec.HMAC

	if err := s.append(&rec); err != nil {
		fmt.Fprintf(os.Stderr, "warning: telemetry write failed: %v\n", err)
		return
	}
	if err := s.saveState(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: telemetry state write failed: %v\n", err)
	}
}

func (s *FileSink) recordHMAC(rec *chainedEvent) string {
	mac := hmac.New(sha256.New, s.hmacKey)
	fmt.Fprintf(mac, "%d|%s|%s|%s|%s|%s",
		rec.Sequence, rec.PrevHMAC, rec.Type, rec.Operation, rec.Detail,
		rec.Timestamp.Format(time.RFC3339Nano))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FileSink) append(rec *chainedEvent) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.path, logFileName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, FileMode)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func (s *FileSink) saveState() error {
	data, err := json.Marshal(chainState{Sequence: s.sequence, PrevHMAC: s.prevHMAC})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.path, stateFileName), data, FileMode)
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Records int
	Valid   bool
	Problem string
}

// Verify re-walks the log checking every record's HMAC and chain linkage.
func (s *FileSink) Verify() (*VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.path, logFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &VerifyResult{Valid: true}, nil
		}
		return nil, fmt.Errorf("telemetry: failed to read log: %w", err)
	}

	result := &VerifyResult{Valid: true}
	prev := "genesis"
	for _, line := range splitLines(data) {
		var rec chainedEvent
		if err := json.Unmarshal(line, &rec); err != nil {
			result.Valid = false
			result.Problem = fmt.Sprintf("record %d: malformed JSON", result.Records+1)
			return result, nil
		}
		if rec.PrevHMAC != prev {
			result.Valid = false
			result.Problem = fmt.Sprintf("record %d: chain break", rec.Sequence)
			return result, nil
		}
		if s.recordHMAC(&rec) != rec.HMAC {
			result.Valid = false
			result.Problem = fmt.Sprintf("record %d: HMAC mismatch", rec.Sequence)
			return result, nil
		}
		prev = rec.HMAC
		result.Records++
	}
	return result, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
