// Package cachedresp defines CachedResponse and its stable binary
// encoding (spec.md §3, §6).
package cachedresp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderPair is an ordered (name, value) byte pair, preserving insertion
// order as captured from the origin response.
type HeaderPair struct {
	Name  string
	Value string
}

// CachedResponse is the ordered triple CacheBolt persists and serves from
// cache: status code, ordered header pairs, and opaque body bytes.
type CachedResponse struct {
	Status  uint16
	Headers []HeaderPair
	Body    []byte
}

// Encode serializes c using the wire format from spec.md §6: status as
// u16, header count as a varint, each header as length-prefixed name and
// value, and the body as a length-prefixed byte string.
func Encode(c CachedResponse) []byte {
	var buf bytes.Buffer

	var statusBytes [2]byte
	binary.BigEndian.PutUint16(statusBytes[:], c.Status)
	buf.Write(statusBytes[:])

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(c.Headers)))
	buf.Write(varintBuf[:n])

	for _, h := range c.Headers {
		writeLengthPrefixed(&buf, varintBuf[:], []byte(h.Name))
		writeLengthPrefixed(&buf, varintBuf[:], []byte(h.Value))
	}

	writeLengthPrefixed(&buf, varintBuf[:], c.Body)

	return buf.Bytes()
}

func writeLengthPrefixed(buf *bytes.Buffer, scratch []byte, data []byte) {
	n := binary.PutUvarint(scratch, uint64(len(data)))
	buf.Write(scratch[:n])
	buf.Write(data)
}

// Decode deserializes bytes produced by Encode. It is bit-exact: for
// every CachedResponse c, Decode(Encode(c)) == c.
func Decode(data []byte) (CachedResponse, error) {
	r := bytes.NewReader(data)

	var statusBytes [2]byte
	if _, err := io.ReadFull(r, statusBytes[:]); err != nil {
		return CachedResponse{}, fmt.Errorf("reading status: %w", err)
	}
	status := binary.BigEndian.Uint16(statusBytes[:])

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return CachedResponse{}, fmt.Errorf("reading header count: %w", err)
	}

	headers := make([]HeaderPair, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readLengthPrefixed(r)
		if err != nil {
			return CachedResponse{}, fmt.Errorf("reading header %d name: %w", i, err)
		}
		value, err := readLengthPrefixed(r)
		if err != nil {
			return CachedResponse{}, fmt.Errorf("reading header %d value: %w", i, err)
		}
		headers = append(headers, HeaderPair{Name: string(name), Value: string(value)})
	}

	body, err := readLengthPrefixed(r)
	if err != nil {
		return CachedResponse{}, fmt.Errorf("reading body: %w", err)
	}

	return CachedResponse{Status: status, Headers: headers, Body: body}, nil
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
