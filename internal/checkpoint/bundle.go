// ABOUTME: Checkpoint bundles: zstd-compressed JSON lines with BLAKE3 content digests
// ABOUTME: Export writes a header line then one line per frozen item; Import verifies before writing

package checkpoint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/metrics"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// BundleFormat identifies checkpoint bundles
const BundleFormat = "coven-context/checkpoint"

// BundleVersion is the only bundle version this build reads and writes
const BundleVersion = 1

// Keyed BLAKE3 domains, ASCII zero-padded to 32 bytes
var (
	itemDomainKey = [32]byte{
		'c', 'o', 'v', 'e', 'n', '.', 'c', 'o', 'n', 't', 'e', 'x', 't', '.',
		'i', 't', 'e', 'm',
	}
	bundleDomainKey = [32]byte{
		'c', 'o', 'v', 'e', 'n', '.', 'c', 'o', 'n', 't', 'e', 'x', 't', '.',
		'b', 'u', 'n', 'd', 'l', 'e',
	}
)

type bundleHeader struct {
	Format     string            `json:"format"`
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Checkpoint *store.Checkpoint `json:"checkpoint"`
	Digest     string            `json:"digest"`
}

type bundleItem struct {
	Item   *store.CheckpointItem `json:"item"`
	Digest string                `json:"digest"`
}

// itemContent is the hashed part of a frozen item. Ids and positions are
// excluded so an imported copy hashes the same as its source.
type itemContent struct {
	Key           string         `json:"key"`
	Value         string         `json:"value"`
	Category      store.Category `json:"category"`
	Priority      store.Priority `json:"priority"`
	Channel       string         `json:"channel"`
	Tags          []string       `json:"tags"`
	ItemCreatedAt time.Time      `json:"item_created_at"`
	ItemUpdatedAt time.Time      `json:"item_updated_at"`
}

// ImportInput describes where an imported bundle lands
type ImportInput struct {
	SessionID string `json:"session_id"`
	// Name overrides the bundled checkpoint name when set
	Name string `json:"name,omitempty"`
}

// Export writes the checkpoint as a bundle to w
func (e *Engine) Export(ctx context.Context, checkpointID string, w io.Writer) error {
	detail, err := e.Get(ctx, checkpointID)
	if err != nil {
		return err
	}

	lines := make([]bundleItem, len(detail.Items))
	digests := make([][32]byte, len(detail.Items))
	for i, it := range detail.Items {
		sum, err := itemDigest(it)
		if err != nil {
			return fmt.Errorf("hashing item %q: %w", it.Key, err)
		}
		digests[i] = sum
		lines[i] = bundleItem{Item: it, Digest: hex.EncodeToString(sum[:])}
	}
	bundleSum := bundleDigest(digests)

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)

	header := bundleHeader{
		Format:     BundleFormat,
		Version:    BundleVersion,
		ExportedAt: e.now(),
		Checkpoint: detail.Checkpoint,
		Digest:     hex.EncodeToString(bundleSum[:]),
	}
	if err := enc.Encode(header); err != nil {
		zw.Close()
		return fmt.Errorf("writing bundle header: %w", err)
	}
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			zw.Close()
			return fmt.Errorf("writing bundle item: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing bundle: %w", err)
	}

	e.logger.Debug("exported checkpoint", "id", checkpointID, "items", len(lines))
	return nil
}

// Import reads a bundle from r, verifies every digest and stores it as a new
// checkpoint owned by in.SessionID. Nothing is written if verification fails.
func (e *Engine) Import(ctx context.Context, in ImportInput, r io.Reader) (*Summary, error) {
	if _, err := e.store.GetSession(ctx, in.SessionID); err != nil {
		return nil, session.Classify("import checkpoint", "session", in.SessionID, err)
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, &session.InvalidArgumentError{Field: "bundle", Reason: err.Error()}
	}
	defer zr.Close()
	dec := json.NewDecoder(zr)

	var header bundleHeader
	if err := dec.Decode(&header); err != nil {
		return nil, corrupt("reading header: %v", err)
	}
	if header.Format != BundleFormat || header.Version != BundleVersion {
		return nil, &session.InvalidArgumentError{
			Field:  "bundle",
			Reason: fmt.Sprintf("unsupported bundle %s v%d", header.Format, header.Version),
		}
	}
	if header.Checkpoint == nil {
		return nil, corrupt("header has no checkpoint")
	}

	var items []*store.CheckpointItem
	var digests [][32]byte
	for {
		var line bundleItem
		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, corrupt("reading item %d: %v", len(items), err)
		}
		if line.Item == nil {
			return nil, corrupt("item %d is empty", len(items))
		}
		sum, err := itemDigest(line.Item)
		if err != nil {
			return nil, corrupt("hashing item %q: %v", line.Item.Key, err)
		}
		if hex.EncodeToString(sum[:]) != line.Digest {
			return nil, corrupt("digest mismatch for item %q", line.Item.Key)
		}
		digests = append(digests, sum)
		items = append(items, copyFrozen(line.Item))
	}

	bundleSum := bundleDigest(digests)
	if hex.EncodeToString(bundleSum[:]) != header.Digest {
		return nil, corrupt("bundle digest mismatch")
	}
	if len(items) != header.Checkpoint.ItemCount {
		return nil, corrupt("header declares %d items, found %d", header.Checkpoint.ItemCount, len(items))
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = header.Checkpoint.Name
	}
	cp := &store.Checkpoint{
		ID:          store.NewID("ckpt"),
		SessionID:   in.SessionID,
		Name:        name,
		Description: header.Checkpoint.Description,
		GitStatus:   header.Checkpoint.GitStatus,
		GitBranch:   header.Checkpoint.GitBranch,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateCheckpoint(ctx, cp, items); err != nil {
		return nil, session.Classify("import checkpoint", "session", in.SessionID, err)
	}
	metrics.CheckpointItems.Observe(float64(cp.ItemCount))

	e.logger.Info("imported checkpoint", "id", cp.ID, "source", header.Checkpoint.ID, "items", cp.ItemCount)
	e.notify(ctx, eventlog.TypeImported, cp, cp.ItemCount)
	return cp, nil
}

func corrupt(format string, args ...any) error {
	return &session.InvalidArgumentError{Field: "bundle", Reason: "corrupt: " + fmt.Sprintf(format, args...)}
}

func itemDigest(it *store.CheckpointItem) ([32]byte, error) {
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(itemContent{
		Key:           it.Key,
		Value:         it.Value,
		Category:      it.Category,
		Priority:      it.Priority,
		Channel:       it.Channel,
		Tags:          tags,
		ItemCreatedAt: it.ItemCreatedAt.UTC(),
		ItemUpdatedAt: it.ItemUpdatedAt.UTC(),
	})
	if err != nil {
		return [32]byte{}, err
	}
	return keyedSum(itemDomainKey, data), nil
}

// bundleDigest hashes the ordered item digests; an empty bundle hashes the empty input
func bundleDigest(items [][32]byte) [32]byte {
	buf := make([]byte, 0, len(items)*32)
	for _, d := range items {
		buf = append(buf, d[:]...)
	}
	return keyedSum(bundleDomainKey, buf)
}

func keyedSum(key [32]byte, data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("checkpoint: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(data)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}
