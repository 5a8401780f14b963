package uploader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const (
	// DefaultPartSize is the fixed block size for multipart uploads.
	DefaultPartSize int64 = 5 * 1024 * 1024

	// MultipartThreshold is the file size above which uploads switch from a
	// single PUT to the multipart path.
	MultipartThreshold int64 = 100 * 1024 * 1024
)

// Chunk is one block of the upload plan. Numbers start at 1 to match the
// provider's part numbering.
type Chunk struct {
	Number int32
	Offset int64
	Length int64
}

// BuildChunkPlan splits fileSize into fixed-size chunks. The final chunk
// carries the remainder.
func BuildChunkPlan(fileSize, partSize int64) []Chunk {
	if fileSize <= 0 || partSize <= 0 {
		return nil
	}

	count := fileSize / partSize
	if fileSize%partSize != 0 {
		count++
	}

	chunks := make([]Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * partSize
		length := partSize
		if offset+length > fileSize {
			length = fileSize - offset
		}
		chunks = append(chunks, Chunk{
			Number: int32(i + 1),
			Offset: offset,
			Length: length,
		})
	}
	return chunks
}

const fingerprintSampleSize = 64 * 1024

// Fingerprint identifies a local file for resume purposes. It hashes the
// size plus the head and tail samples, which is stable across partial
// uploads and cheap even for large files.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d:", fi.Size())

	head := make([]byte, fingerprintSampleSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	h.Write(head[:n])

	if fi.Size() > fingerprintSampleSize {
		tailOffset := fi.Size() - fingerprintSampleSize
		if tailOffset < fingerprintSampleSize {
			tailOffset = fingerprintSampleSize
		}
		tail := make([]byte, fi.Size()-tailOffset)
		if _, err := f.ReadAt(tail, tailOffset); err != nil && err != io.EOF {
			return "", err
		}
		h.Write(tail)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
