package sink

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLineWriter_AppendAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accel.txt")

	w, err := CreateLineWriter(path)
	if err != nil {
		t.Fatalf("CreateLineWriter failed: %v", err)
	}

	lines := []string{"1 0x1p+00 0x1p+00 0x1p+00\n", "2 0x1p+01 0x1p+01 0x1p+01\n"}
	for _, line := range lines {
		if err := w.WriteLine(line); err != nil {
			t.Fatalf("WriteLine failed: %v", err)
		}
	}

	if w.Lines() != 2 {
		t.Errorf("Expected 2 lines, got %d", w.Lines())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// 二重クローズはエラーにならない
	if err := w.Close(); err != nil {
		t.Errorf("Second Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != lines[0]+lines[1] {
		t.Errorf("Unexpected file content: %q", string(data))
	}

	if err := w.WriteLine("3\n"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}

func TestLineWriter_NeverOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gyro.txt")
	if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := CreateLineWriter(path); err == nil {
		t.Fatal("Expected error when file already exists")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "existing\n" {
		t.Errorf("Existing file was modified: %q", string(data))
	}
}

func TestImageDir_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "left_images")

	images, err := NewImageDir(dir)
	if err != nil {
		t.Fatalf("NewImageDir failed: %v", err)
	}

	path, err := images.Write(3, []byte{0xFF, 0xD8, 0xFF, 0xD9})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Base(path) != "00003.jpg" {
		t.Errorf("Expected 00003.jpg, got %s", filepath.Base(path))
	}

	// 同じインデックスは上書きしない
	if _, err := images.Write(3, []byte{0x00}); err == nil {
		t.Error("Expected error when writing the same index twice")
	}

	data, _ := os.ReadFile(path)
	if len(data) != 4 {
		t.Errorf("Image was overwritten: %d bytes", len(data))
	}
}

type failingCloser struct {
	closed *int
	err    error
}

func (f failingCloser) Close() error {
	*f.closed++
	return f.err
}

func TestCloseAll_ContinuesAfterFailure(t *testing.T) {
	closed := 0
	boom := errors.New("boom")

	var nilWriter *LineWriter
	err := CloseAll(
		failingCloser{closed: &closed, err: boom},
		nilWriter,
		failingCloser{closed: &closed},
		failingCloser{closed: &closed, err: boom},
	)

	if closed != 3 {
		t.Errorf("Expected all 3 closers to be called, got %d", closed)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to contain boom, got %v", err)
	}
}
