package contentrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	"github.com/sha1n/mcp-content-repository/internal/store"
)

// changeSet applies the store writes of one operation and remembers how to undo
// them. Index updates are collected in a batch and applied by commit, after every
// store write succeeded.
type changeSet struct {
	repo    *Repository
	undo    []func(ctx context.Context) error
	batch   *index.Batch
	touched []domain.ResourceURI
}

func (r *Repository) newChangeSet() *changeSet {
	return &changeSet{repo: r, batch: r.index.NewBatch()}
}

func (c *changeSet) read(ctx context.Context, uri domain.ResourceURI) (*domain.Resource, error) {
	res, err := c.repo.store.Read(ctx, uri)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return res, err
}

// write stores res and queues its index document.
func (c *changeSet) write(ctx context.Context, res *domain.Resource) error {
	prev, err := c.read(ctx, res.URI.WithPath(""))
	if err != nil {
		return err
	}
	if err := c.repo.store.Write(ctx, res); err != nil {
		return fmt.Errorf("failed to write %s: %w", res.URI, err)
	}
	c.undo = append(c.undo, func(ctx context.Context) error {
		if prev == nil {
			return c.repo.store.Delete(ctx, res.URI.WithPath(""))
		}
		return c.repo.store.Write(ctx, prev)
	})
	if err := c.batch.Index(res); err != nil {
		return err
	}
	c.touched = append(c.touched, res.URI)
	return nil
}

// remove deletes one stored version together with its binaries.
func (c *changeSet) remove(ctx context.Context, uri domain.ResourceURI) error {
	uri = uri.WithPath("")
	prev, err := c.read(ctx, uri)
	if err != nil {
		return err
	}
	if prev == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	binaries := make(map[string][]byte)
	for _, lang := range prev.Languages() {
		data, err := c.readBinary(ctx, uri, lang)
		if err != nil {
			return err
		}
		if data != nil {
			binaries[lang] = data
		}
	}

	if err := c.repo.store.Delete(ctx, uri); err != nil {
		return fmt.Errorf("failed to delete %s: %w", uri, err)
	}
	c.undo = append(c.undo, func(ctx context.Context) error {
		if err := c.repo.store.Write(ctx, prev); err != nil {
			return err
		}
		for lang, data := range binaries {
			if _, err := c.repo.store.WriteContent(ctx, uri, lang, bytes.NewReader(data)); err != nil {
				return err
			}
		}
		return nil
	})
	c.batch.Deindex(uri)
	c.touched = append(c.touched, uri)
	return nil
}

// writeBinary stores the binary of a content variant and returns its size.
func (c *changeSet) writeBinary(ctx context.Context, uri domain.ResourceURI, lang string, data io.Reader) (int64, error) {
	uri = uri.WithPath("")
	prev, err := c.readBinary(ctx, uri, lang)
	if err != nil {
		return 0, err
	}
	n, err := c.repo.store.WriteContent(ctx, uri, lang, data)
	if err != nil {
		return 0, fmt.Errorf("failed to write %s content of %s: %w", lang, uri, err)
	}
	c.undo = append(c.undo, c.restoreBinary(uri, lang, prev))
	return n, nil
}

// removeBinary deletes the binary of a content variant.
func (c *changeSet) removeBinary(ctx context.Context, uri domain.ResourceURI, lang string) error {
	uri = uri.WithPath("")
	prev, err := c.readBinary(ctx, uri, lang)
	if err != nil {
		return err
	}
	if err := c.repo.store.DeleteContent(ctx, uri, lang); err != nil {
		return fmt.Errorf("failed to delete %s content of %s: %w", lang, uri, err)
	}
	c.undo = append(c.undo, c.restoreBinary(uri, lang, prev))
	return nil
}

func (c *changeSet) restoreBinary(uri domain.ResourceURI, lang string, prev []byte) func(context.Context) error {
	return func(ctx context.Context) error {
		if prev == nil {
			return c.repo.store.DeleteContent(ctx, uri, lang)
		}
		_, err := c.repo.store.WriteContent(ctx, uri, lang, bytes.NewReader(prev))
		return err
	}
}

// readBinary returns nil when the variant has no binary.
func (c *changeSet) readBinary(ctx context.Context, uri domain.ResourceURI, lang string) ([]byte, error) {
	rc, err := c.repo.store.ReadContent(ctx, uri, lang)
	if errors.Is(err, store.ErrContentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s content of %s: %w", lang, uri, err)
	}
	return data, nil
}

// rollback undoes the store writes in reverse order. It runs detached from the
// caller's cancellation.
func (c *changeSet) rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(c.undo) - 1; i >= 0; i-- {
		if err := c.undo[i](ctx); err != nil {
			c.repo.logger.Error("Failed to roll back store change", "error", err, operationAttr(ctx))
			c.repo.queueRepair(c.touched...)
		}
	}
	c.undo = nil
}

// commit applies the index batch. The store changes are already durable, so an
// index failure queues the touched resources for repair and is reported as an
// IndexSyncError.
func (c *changeSet) commit(ctx context.Context) error {
	c.undo = nil
	if err := c.repo.index.Apply(context.WithoutCancel(ctx), c.batch); err != nil {
		c.repo.queueRepair(c.touched...)
		c.repo.logger.Error("Index update failed after store commit",
			"error", err, "versions", len(c.touched), operationAttr(ctx))
		return &IndexSyncError{URIs: c.touched, Err: err}
	}
	return nil
}

// operationAttr names the operation in flight for log records.
func operationAttr(ctx context.Context) slog.Attr {
	if op, ok := CurrentOperation(ctx); ok {
		return slog.Group("op", "id", op.ID(), "kind", string(op.Kind()))
	}
	return slog.String("op", "none")
}
