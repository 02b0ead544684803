package queue

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
)

// JSONLStore keeps the queue in a JSONL file, one request per line. Remove
// and Update rewrite the file; queue depth is bounded by the abandon policy
// so the rewrite stays cheap.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

func (s *JSONLStore) Append(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(req)
}

func (s *JSONLStore) List(ctx context.Context) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *JSONLStore) Update(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs, err := s.readAll()
	if err != nil {
		return err
	}
	for i := range reqs {
		if reqs[i].ID == req.ID {
			reqs[i] = req
		}
	}
	return s.writeAll(reqs)
}

func (s *JSONLStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs, err := s.readAll()
	if err != nil {
		return err
	}
	kept := reqs[:0]
	for _, r := range reqs {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return s.writeAll(kept)
}

func (s *JSONLStore) Close() error { return nil }

func (s *JSONLStore) readAll() ([]Request, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var res []Request
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Request
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		res = append(res, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *JSONLStore) writeAll(reqs []Request) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range reqs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
