package scanner

import (
	"context"
	"fmt"
	"testing"

	"github.com/fenilsonani/organizer/internal/testutil"
	"github.com/rs/zerolog"
)

func BenchmarkScan(b *testing.B) {
	f := testutil.NewFixture(b)
	for d := 0; d < 20; d++ {
		for i := 0; i < 50; i++ {
			f.CreateFile(fmt.Sprintf("dir%02d/file%03d.bin", d, i), []byte("payload"))
		}
	}

	s, err := New(Options{Root: f.RootDir, Recursive: true}, zerolog.Nop())
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := s.Scan(context.Background())
		if res.TotalCount != 1000 {
			b.Fatalf("expected 1000 files, got %d", res.TotalCount)
		}
	}
}
