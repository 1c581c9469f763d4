// Package storage resolves media stream locators to URLs a client
// player can fetch, backed by Supabase object storage.
package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Supabase uploads media objects and builds public stream URLs for
// catalog locators of the form "supabase://<object-key>". Absolute
// locators pass through untouched.
type Supabase struct {
	client  *supabase.Client
	baseURL string
	bucket  string
}

func New(cfg Config) (*Supabase, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Supabase{
		client:  client,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		bucket:  cfg.Bucket,
	}, nil
}

func (s *Supabase) Upload(key string, data []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// StreamURL maps a catalog locator to a fetchable URL.
func (s *Supabase) StreamURL(locator string) string {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return locator
	}
	key := strings.TrimPrefix(locator, "supabase://")
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}
