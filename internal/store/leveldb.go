package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// versionSep 分隔代际标签与条目键；标签经配置校验不会包含 NUL。
const versionSep = byte(0)

// NewLevelStore 打开（必要时创建）goleveldb 存储，整个进程复用一份实例。
func NewLevelStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelStore{db: db}, nil
}

type levelStore struct {
	db *leveldb.DB
}

// record 是 gob 持久化格式。Header 内包含写入时间戳头，天然随记录存活。
type record struct {
	Status int
	Header map[string][]string
	Body   []byte
}

func (s *levelStore) Get(ctx context.Context, version string, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := s.db.Get(entryKey(version, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}

	resp := &Response{
		Status: rec.Status,
		Header: rec.Header,
		Body:   rec.Body,
	}
	return resp, nil
}

func (s *levelStore) Put(ctx context.Context, version string, key Key, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := record{
		Status: resp.Status,
		Header: resp.Header,
		Body:   resp.Body,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	return s.db.Put(entryKey(version, key), buf.Bytes(), nil)
}

func (s *levelStore) Delete(ctx context.Context, version string, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Delete(entryKey(version, key), nil)
}

func (s *levelStore) Keys(ctx context.Context, version string) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := versionPrefix(version)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var keys []Key
	for iter.Next() {
		raw := string(iter.Key()[len(prefix):])
		method, rawURL, ok := strings.Cut(raw, " ")
		if !ok {
			continue
		}
		keys = append(keys, Key{Method: method, URL: rawURL})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *levelStore) Versions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	seen := map[string]struct{}{}
	for iter.Next() {
		raw := iter.Key()
		idx := bytes.IndexByte(raw, versionSep)
		if idx < 0 {
			continue
		}
		seen[string(raw[:idx])] = struct{}{}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(seen))
	for version := range seen {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *levelStore) DeleteVersion(ctx context.Context, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	iter := s.db.NewIterator(util.BytesPrefix(versionPrefix(version)), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelStore) Close() error {
	return s.db.Close()
}

func entryKey(version string, key Key) []byte {
	return append(versionPrefix(version), key.String()...)
}

func versionPrefix(version string) []byte {
	prefix := make([]byte, 0, len(version)+1)
	prefix = append(prefix, version...)
	return append(prefix, versionSep)
}
