package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
)

// Serialization errors. Every one of them is fail closed: the caller ends
// up with an empty state, never a partially adopted one.
var (
	ErrBadMagic           = errors.New("registry file: bad magic")
	ErrNewerVersion       = errors.New("registry file: written by a newer version")
	ErrDataSourceMismatch = errors.New("registry file: data source identity mismatch")
	ErrCookedMismatch     = errors.New("registry file: cooked flag mismatch")
	ErrChecksumMismatch   = errors.New("registry file: body checksum mismatch")
	ErrUnknownSchema      = errors.New("registry file: unknown payload schema")
	ErrDuplicateRecord    = errors.New("registry file: duplicate record id")
	ErrTruncated          = errors.New("registry file: truncated")
)

// fileMagic identifies a registry file. Sixteen fixed bytes, never reused
// for another format.
var fileMagic = [16]byte{
	0x43, 0x46, 0x49, 0x52, 0x9e, 0x1b, 0x44, 0xd2,
	0xa7, 0x03, 0x5c, 0x88, 0x21, 0xfa, 0x6e, 0x0d,
}

// formatVersion is the top-level format version this build writes and the
// newest it accepts.
const formatVersion uint32 = 1

// SubVersion is one auxiliary format version active at write time.
// Sub-versions gate encoding details that can evolve independently of the
// top-level version.
type SubVersion struct {
	Name    string
	Version uint32
}

// knownSubVersions lists the sub-versions this build understands and the
// newest revision of each it accepts.
var knownSubVersions = map[string]uint32{
	"record-layout":  1,
	"payload-schema": 1,
}

func currentSubVersions() []SubVersion {
	return []SubVersion{
		{Name: "record-layout", Version: 1},
		{Name: "payload-schema", Version: 1},
	}
}

// SaveOptions parameterizes a save.
type SaveOptions struct {
	// DataSource is the identity of the data source kind that produced the
	// state. A load under a different identity is rejected.
	DataSource string

	// Cooked selects the stripped encoding: asset paths and custom data
	// are dropped, leaving only what shipped builds need.
	Cooked bool
}

// LoadOptions parameterizes a load.
type LoadOptions struct {
	// DataSource must match the identity recorded at save time.
	DataSource string

	// ExpectCooked must match the cooked flag recorded at save time.
	ExpectCooked bool
}

// Save writes the state to w: header first, then the body bytes the header
// checksums. The body is serialized into memory so its crc32 is known
// before the header goes out.
func Save(w io.Writer, s *State, opts SaveOptions) error {
	body := encodeBody(s, opts.Cooked)

	var hdr bytes.Buffer
	hdr.Write(fileMagic[:])
	putU32(&hdr, formatVersion)
	putString(&hdr, opts.DataSource)
	subs := currentSubVersions()
	putU32(&hdr, uint32(len(subs)))
	for _, sv := range subs {
		putString(&hdr, sv.Name)
		putU32(&hdr, sv.Version)
	}
	putU32(&hdr, crc32.ChecksumIEEE(body))
	putBool(&hdr, opts.Cooked)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	log.Debug(log.CatSerialize, "state saved",
		"records", s.Len(), "cooked", opts.Cooked, "bytes", hdr.Len()+len(body))
	return nil
}

// Load reads a registry file into s. Any header mismatch rejects the file
// before the body is touched; any body failure resets s to empty. On
// success s ends fixed up and ready to serve.
func Load(r io.Reader, s *State, schemas *item.SchemaRegistry, opts LoadOptions) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read registry file: %w", err)
	}

	d := &decoder{buf: raw}

	var magic [16]byte
	d.bytesInto(magic[:])
	if d.err != nil || magic != fileMagic {
		return ErrBadMagic
	}

	version := d.u32()
	if d.err != nil {
		return ErrTruncated
	}
	if version > formatVersion {
		return fmt.Errorf("%w: %d > %d", ErrNewerVersion, version, formatVersion)
	}

	dataSource := d.str()
	subCount := d.u32()
	if d.err != nil {
		return ErrTruncated
	}
	for range subCount {
		name := d.str()
		ver := d.u32()
		if d.err != nil {
			return ErrTruncated
		}
		if known, ok := knownSubVersions[name]; !ok || ver > known {
			return fmt.Errorf("%w: sub-version %s=%d", ErrNewerVersion, name, ver)
		}
	}

	bodySum := d.u32()
	cooked := d.bool()
	if d.err != nil {
		return ErrTruncated
	}

	if dataSource != opts.DataSource {
		return fmt.Errorf("%w: file %q, expected %q", ErrDataSourceMismatch, dataSource, opts.DataSource)
	}
	if cooked != opts.ExpectCooked {
		return fmt.Errorf("%w: file cooked=%v, expected %v", ErrCookedMismatch, cooked, opts.ExpectCooked)
	}

	body := d.buf[d.off:]
	if crc32.ChecksumIEEE(body) != bodySum {
		s.Reset(nil)
		log.Error(log.CatSerialize, "registry file body corrupt, state reset")
		return ErrChecksumMismatch
	}

	records, err := decodeBody(body, schemas, cooked)
	if err != nil {
		s.Reset(nil)
		log.ErrorErr(log.CatSerialize, "registry file body rejected, state reset", err)
		return err
	}

	s.Reset(records)
	log.Info(log.CatSerialize, "state loaded", "records", s.Len(), "cooked", cooked)
	return nil
}

// SaveFile saves the state to path, writing through a temp file so a crash
// mid-write never leaves a torn registry file behind.
func SaveFile(path string, s *State, opts SaveOptions) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := Save(f, s, opts); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// LoadFile loads the state from path.
func LoadFile(path string, s *State, schemas *item.SchemaRegistry, opts LoadOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, s, schemas, opts)
}

// encodeBody serializes the record array and its payload blobs. The cooked
// form strips asset paths and custom data.
func encodeBody(s *State, cooked bool) []byte {
	var b bytes.Buffer
	putU32(&b, uint32(s.Len()))

	for i := range s.records {
		rec := &s.records[i]
		putString(&b, string(rec.Shared.ID.Archetype))
		putString(&b, string(rec.Shared.ID.Name))
		putU32(&b, uint32(len(rec.Shared.Tags)))
		for _, tag := range rec.Shared.Tags {
			putString(&b, tag)
		}
		putU32(&b, uint32(rec.Shared.MaxStackSize))
		putValue(&b, s.DefaultPayload(rec))
		if !cooked {
			putString(&b, rec.AssetPath)
			putValue(&b, s.CustomData(rec))
		}
	}
	return b.Bytes()
}

// decodeBody parses the body into value-carrying records. Every payload
// schema must resolve against the registry and every record id must be
// unique; either failure rejects the whole body. A duplicate id is a
// fatal contract violation when it comes from the in-process data
// source, but file bytes are untrusted input and fail closed instead.
func decodeBody(body []byte, schemas *item.SchemaRegistry, cooked bool) ([]RecordData, error) {
	d := &decoder{buf: body}

	count := d.u32()
	if d.err != nil {
		return nil, ErrTruncated
	}
	if uint64(count) > uint64(len(body)) {
		// Each record occupies at least one byte; a larger count can only
		// come from a corrupt or hostile file.
		return nil, ErrTruncated
	}

	records := make([]RecordData, 0, count)
	seen := make(map[item.Identifier]bool, count)
	for range count {
		var rd RecordData
		rd.Shared.ID = item.MakeIdentifier(d.str(), d.str())
		tagCount := d.u32()
		if d.err != nil {
			return nil, ErrTruncated
		}
		if tagCount > 0 {
			if uint64(tagCount) > uint64(len(body)) {
				return nil, ErrTruncated
			}
			rd.Shared.Tags = make([]string, 0, tagCount)
			for range tagCount {
				rd.Shared.Tags = append(rd.Shared.Tags, d.str())
			}
		}
		rd.Shared.MaxStackSize = int32(d.u32())

		var err error
		if rd.DefaultPayload, err = d.value(schemas); err != nil {
			return nil, err
		}
		if !cooked {
			rd.AssetPath = d.str()
			if rd.CustomData, err = d.value(schemas); err != nil {
				return nil, err
			}
		}
		if d.err != nil {
			return nil, ErrTruncated
		}
		if seen[rd.Shared.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, rd.Shared.ID)
		}
		seen[rd.Shared.ID] = true
		records = append(records, rd)
	}

	if d.off != len(d.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(d.buf)-d.off)
	}
	return records, nil
}

func putU32(b *bytes.Buffer, x uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], x)
	b.Write(tmp[:])
}

func putString(b *bytes.Buffer, s string) {
	putU32(b, uint32(len(s)))
	b.WriteString(s)
}

func putBool(b *bytes.Buffer, v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}

// putValue writes a payload blob as schema name + raw bytes. The empty
// value writes an empty schema name and nothing else.
func putValue(b *bytes.Buffer, v item.Value) {
	if !v.IsValid() {
		putString(b, "")
		return
	}
	putString(b, v.Schema().Name())
	b.Write(v.Bytes())
}

// decoder is a cursor over an in-memory buffer with a latched error, so
// parse code reads straight through and checks once per record.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = ErrTruncated
		return nil
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out
}

func (d *decoder) bytesInto(dst []byte) {
	copy(dst, d.take(len(dst)))
}

func (d *decoder) u32() uint32 {
	raw := d.take(4)
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(raw)
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if uint64(n) > uint64(len(d.buf)-d.off) {
		d.err = ErrTruncated
		return ""
	}
	return string(d.take(int(n)))
}

func (d *decoder) bool() bool {
	raw := d.take(1)
	if d.err != nil {
		return false
	}
	return raw[0] != 0
}

// value reads one payload blob. The schema name resolves through the
// registry; the blob length is the schema size.
func (d *decoder) value(schemas *item.SchemaRegistry) (item.Value, error) {
	name := d.str()
	if d.err != nil {
		return item.Value{}, nil
	}
	if name == "" {
		return item.Value{}, nil
	}
	schema, ok := schemas.Lookup(name)
	if !ok {
		return item.Value{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	raw := d.take(schema.Size())
	if d.err != nil {
		return item.Value{}, nil
	}
	return item.ViewValue(schema, bytes.Clone(raw)), nil
}
