package tensor

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableTensor = "t"
)

// DiskStore keeps named tensors in a sqlite database.
// Tensor data are stored as zstd compressed little-endian float64.
type DiskStore struct {
	Path string

	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewDiskStore(dbPath string) (*DiskStore, error) {
	s := &DiskStore{Path: dbPath}
	var err error
	s.db, err = newDB(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	s.dec, err = zstd.NewReader(nil)
	if err != nil {
		s.enc.Close()
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

// Close closes the database and removes its file.
func (s *DiskStore) Close() error {
	var err error
	s.dec.Close()
	if err1 := s.enc.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := s.db.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := os.Remove(s.Path); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func (s *DiskStore) Save(name string, t *Dense) error {
	raw := make([]byte, 8*len(t.data))
	for i, v := range t.data {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	blob := s.enc.EncodeAll(raw, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, shape, data) VALUES (?, ?, ?)`, tableTensor)
	if _, err := s.db.ExecContext(ctx, sqlStr, name, formatShape(t.shape), blob); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %s %v", sqlStr, name, t.shape))
	}
	return nil
}

// Load returns the tensor saved under name. ok is false if there is no such tensor.
func (s *DiskStore) Load(name string) (t *Dense, ok bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT shape, data FROM %s WHERE name=?`, tableTensor)
	var shapeStr string
	var blob []byte
	err = s.db.QueryRowContext(ctx, sqlStr, name).Scan(&shapeStr, &blob)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrap(err, name)
	}

	shape, err := parseShape(shapeStr)
	if err != nil {
		return nil, false, errors.Wrap(err, name)
	}
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, name)
	}
	if len(raw) != 8*prod(shape) {
		return nil, false, errors.Errorf("%s: %d bytes for shape %v", name, len(raw), shape)
	}
	data := make([]float64, len(raw)/8)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return New(data, shape...), true, nil
}

// Names returns the names of all saved tensors.
func (s *DiskStore) Names() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, tableTensor)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return names, nil
}

func formatShape(shape []int) string {
	strs := make([]string, len(shape))
	for i, n := range shape {
		strs[i] = strconv.Itoa(n)
	}
	return strings.Join(strs, ",")
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	strs := strings.Split(s, ",")
	shape := make([]int, len(strs))
	for i, str := range strs {
		var err error
		shape[i], err = strconv.Atoi(str)
		if err != nil {
			return nil, errors.Wrap(err, s)
		}
	}
	return shape, nil
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableTensor)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE %s (name TEXT PRIMARY KEY, shape TEXT, data BLOB) STRICT`, tableTensor)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
