package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	in := doc{Name: "alpha", Count: 3}
	if err := s.Put(ctx, []string{"session", "s1"}, in); err != nil {
		t.Fatal(err)
	}

	var out doc
	if err := s.Get(ctx, []string{"session", "s1"}, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestGetMissing(t *testing.T) {
	s := New(t.TempDir())
	var out doc
	err := s.Get(context.Background(), []string{"nope"}, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListAndScan(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"m3", "m1", "m2"} {
		if err := s.Put(ctx, []string{"message", "s1", id}, doc{Name: id}); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.List(ctx, []string{"message", "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 || keys[0] != "m1" || keys[2] != "m3" {
		t.Errorf("keys = %v, want sorted m1..m3", keys)
	}

	var scanned []string
	err = s.Scan(ctx, []string{"message", "s1"}, func(key string, data json.RawMessage) error {
		scanned = append(scanned, key)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(scanned) != 3 || scanned[0] != "m1" {
		t.Errorf("scanned = %v", scanned)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	s.Put(ctx, []string{"x"}, doc{})
	if err := s.Delete(ctx, []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, []string{"x"}); err != nil {
		t.Fatal("second delete should be a no-op")
	}
	if s.Exists(ctx, []string{"x"}) {
		t.Fatal("deleted key still exists")
	}
}
