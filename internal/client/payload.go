package client

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"strconv"
	"time"
)

// Payload is the multipart body of one upload. It is streamed from disk
// while the request is sent, so nothing is buffered in memory.
type Payload struct {
	entries []Entry
	expiry  time.Duration
	oneTime bool
}

func NewPayload(entries []Entry, expiry time.Duration, oneTime bool) *Payload {
	return &Payload{
		entries: entries,
		expiry:  expiry,
		oneTime: oneTime,
	}
}

// Entries returns the files the payload carries.
func (p *Payload) Entries() []Entry {
	return p.entries
}

// Reader returns the encoded body and its content type. The body is
// produced by a goroutine that ends once the reader is drained or closed.
func (p *Payload) Reader() (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(p.write(mw))
	}()

	return pr, mw.FormDataContentType()
}

func (p *Payload) write(mw *multipart.Writer) error {
	seconds := int(p.expiry / time.Second)
	if err := mw.WriteField("expiry_seconds", strconv.Itoa(seconds)); err != nil {
		return err
	}
	if err := mw.WriteField("one_time_download", strconv.FormatBool(p.oneTime)); err != nil {
		return err
	}

	for _, e := range p.entries {
		if err := mw.WriteField("paths", e.RelPath); err != nil {
			return err
		}
		if err := writeFilePart(mw, e); err != nil {
			return err
		}
	}

	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, e Entry) error {
	file, err := os.Open(e.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", e.LocalPath, err)
	}
	defer file.Close()

	part, err := mw.CreateFormFile("files", path.Base(e.RelPath))
	if err != nil {
		return fmt.Errorf("failed to create form part: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.LocalPath, err)
	}
	return nil
}
