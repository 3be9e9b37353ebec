package talks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"skill-sharing/server/internal/model"
)

// FileStore 把全部 Talk 存成一个 JSON 对象文件：{"<title>": {...}, ...}。
//
// 每次操作都是 读全量 -> 修改 -> 写全量，写入走临时文件 + rename，
// 避免进程中途退出留下半截文件。对象 key 的顺序即 Talk 的提交顺序。
type FileStore struct {
	mu       sync.Mutex
	fileName string
}

func NewFileStore(fileName string) *FileStore {
	return &FileStore{fileName: fileName}
}

func (s *FileStore) FindAll(_ context.Context) ([]model.Talk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *FileStore) FindByTitle(_ context.Context, title string) (model.Talk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return model.Talk{}, err
	}
	for _, t := range all {
		if t.Title == title {
			return t, nil
		}
	}
	return model.Talk{}, ErrNotFound
}

func (s *FileStore) Save(_ context.Context, talk model.Talk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	talk = talk.Normalize()
	replaced := false
	for i := range all {
		if all[i].Title == talk.Title {
			all[i] = talk
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, talk)
	}
	return s.store(all)
}

func (s *FileStore) DeleteByTitle(_ context.Context, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return false, err
	}
	for i := range all {
		if all[i].Title == title {
			all = append(all[:i], all[i+1:]...)
			return true, s.store(all)
		}
	}
	return false, nil
}

func (s *FileStore) load() ([]model.Talk, error) {
	data, err := os.ReadFile(s.fileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// 首次启动还没有文件：视为空集合，而不是损坏。
			return []model.Talk{}, nil
		}
		return nil, fmt.Errorf("read talks file: %w", err)
	}

	all, err := decodeTalks(data)
	if err != nil {
		return nil, fmt.Errorf("parse talks file %s: %w", s.fileName, err)
	}
	return all, nil
}

func (s *FileStore) store(all []model.Talk) error {
	data, err := encodeTalks(all)
	if err != nil {
		return fmt.Errorf("encode talks: %w", err)
	}

	dir := filepath.Dir(s.fileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create talks dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".talks-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.fileName); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace talks file: %w", err)
	}
	return nil
}

// decodeTalks 按 key 出现顺序解析 JSON 对象；map 解码会丢失顺序。
func decodeTalks(data []byte) ([]model.Talk, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	all := []model.Talk{}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}

		var talk model.Talk
		if err := dec.Decode(&talk); err != nil {
			return nil, fmt.Errorf("talk %q: %w", key, err)
		}
		if talk.Title == "" {
			talk.Title = key
		}
		talk = talk.Normalize()

		if i, dup := index[talk.Title]; dup {
			all[i] = talk
			continue
		}
		index[talk.Title] = len(all)
		all = append(all, talk)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return all, nil
}

func encodeTalks(all []model.Talk) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, talk := range all {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(talk.Title)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(talk.Normalize())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
