package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrTooLarge = errors.New("blob exceeds size limit")
)

// Object describes stored document content.
type Object struct {
	ShipmentID  string    `json:"shipmentId"`
	Stage       int       `json:"stage"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	UploadedBy  string    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Store keeps the bytes behind uploaded stage documents.
type Store interface {
	Put(ctx context.Context, meta Object, body io.Reader) (Object, error)
	Get(ctx context.Context, shipmentID string, stage int, name string) (Object, io.ReadCloser, error)
}

// Key is the object key for one stage document.
func Key(shipmentID string, stage int, name string) string {
	return fmt.Sprintf("shipments/%s/stages/%d/%s", url.PathEscape(shipmentID), stage, url.PathEscape(name))
}

// readLimited reads body fully and fails once it exceeds limit bytes.
func readLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read blob body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Digest is the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
