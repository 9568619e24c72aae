package camera

import (
	"errors"
	"testing"
)

func TestImageReader_BoundedPool(t *testing.T) {
	reader := NewImageReader(Resolution{Width: 4, Height: 4}, 2)

	img1, err := reader.Acquire([]byte{1, 2, 3}, 10)
	if err != nil {
		t.Fatalf("Acquire 1 failed: %v", err)
	}
	img2, err := reader.Acquire([]byte{4, 5}, 20)
	if err != nil {
		t.Fatalf("Acquire 2 failed: %v", err)
	}

	// 上限に達したら取得できない
	if _, err := reader.Acquire([]byte{6}, 30); !errors.Is(err, ErrNoBufferAvailable) {
		t.Fatalf("Expected ErrNoBufferAvailable, got %v", err)
	}
	if reader.Dropped() != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", reader.Dropped())
	}

	img1.Close()

	img3, err := reader.Acquire([]byte{7, 8, 9, 10}, 40)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	if string(img3.Bytes()) != string([]byte{7, 8, 9, 10}) {
		t.Errorf("Unexpected image data: %v", img3.Bytes())
	}
	if img3.Timestamp != 40 {
		t.Errorf("Expected timestamp 40, got %d", img3.Timestamp)
	}

	img2.Close()
	img3.Close()

	if reader.Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding, got %d", reader.Outstanding())
	}
}

func TestImageReader_CloseReleasesExactlyOnce(t *testing.T) {
	reader := NewImageReader(Resolution{Width: 1, Height: 1}, 2)

	img, err := reader.Acquire([]byte{1}, 1)
	if err != nil {
		t.Fatal(err)
	}

	img.Close()
	img.Close()
	img.Close()

	if reader.Released() != 1 {
		t.Errorf("Expected exactly 1 release, got %d", reader.Released())
	}
	if reader.Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding, got %d", reader.Outstanding())
	}
}

func TestImageReader_CopiesData(t *testing.T) {
	reader := NewImageReader(Resolution{Width: 1, Height: 1}, 1)

	src := []byte{1, 2, 3}
	img, err := reader.Acquire(src, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	// ドライバー側のバッファを再利用しても画像は変わらない
	src[0] = 99
	if img.Bytes()[0] != 1 {
		t.Error("Image shares memory with the driver buffer")
	}
}

func TestImageReader_ClosedReader(t *testing.T) {
	reader := NewImageReader(Resolution{Width: 1, Height: 1}, 2)

	img, err := reader.Acquire([]byte{1}, 1)
	if err != nil {
		t.Fatal(err)
	}

	reader.Close()

	if _, err := reader.Acquire([]byte{2}, 2); !errors.Is(err, ErrReaderClosed) {
		t.Errorf("Expected ErrReaderClosed, got %v", err)
	}

	// クローズ後も使用中の画像は返却できる
	img.Close()
	if reader.Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding, got %d", reader.Outstanding())
	}
}

func TestLargestSize(t *testing.T) {
	sizes := []Resolution{
		{Width: 1920, Height: 1080},
		{Width: 3016, Height: 3016},
		{Width: 4000, Height: 2000},
		{Width: 0, Height: 5000},
	}

	got, ok := LargestSize(sizes)
	if !ok {
		t.Fatal("Expected a size")
	}
	if got != (Resolution{Width: 3016, Height: 3016}) {
		t.Errorf("Expected 3016x3016, got %s", got)
	}

	if _, ok := LargestSize(nil); ok {
		t.Error("Expected no size for empty list")
	}
}
