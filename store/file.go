package store

import (
	"errors"
	"os"
)

// Writer is an exclusive handle on a stored file.
type Writer struct {
	file   *os.File
	path   string
	unlock func()
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Close() error {
	defer w.unlock()
	return w.file.Close()
}

// Abort closes and removes the file. Used when a transfer did not complete.
func (w *Writer) Abort() error {
	defer w.unlock()

	err := w.file.Close()
	if rmErr := os.Remove(w.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return rmErr
	}

	return err
}

// Reader is a shared handle on a stored file.
type Reader struct {
	file   *os.File
	size   int64
	unlock func()
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.file.Read(p)
}

// Size is the file size observed when the file was opened.
func (r *Reader) Size() int64 {
	return r.size
}

func (r *Reader) Close() error {
	defer r.unlock()
	return r.file.Close()
}
