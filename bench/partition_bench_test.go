package bench

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	kvengine "github.com/gsauere/kv-engine"
)

var partition *kvengine.Partition

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func GetKey(n int) []byte {
	return []byte("bench_test_key_" + fmt.Sprintf("%d", n))
}

func GetValue() []byte {
	var str bytes.Buffer
	for i := 0; i < 512; i++ {
		str.WriteByte(alphabet[rand.Int()%36])
	}
	return str.Bytes()
}

func initPartition() {
	for i := 0; i < 500000; i++ {
		if _, err := partition.Set(GetKey(i), GetValue(), 0); err != nil {
			panic(err)
		}
	}
	if _, err := partition.Resize(); err != nil {
		panic(err)
	}
}

func BenchmarkGetValue(b *testing.B) {
	initPartition()
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := partition.Get(GetKey(i))
		if err != nil && !errors.Is(err, kvengine.ErrKeyNotFound) {
			panic(err)
		}
	}
}

func BenchmarkSetValue(b *testing.B) {
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := partition.Set(GetKey(i), GetValue(), 0); err != nil {
			panic(err)
		}
	}
}

func BenchmarkSetValueParallel(b *testing.B) {
	value := GetValue()
	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := partition.Set([]byte(uuid.NewString()), value, 0); err != nil {
				panic(err)
			}
		}
	})
}

func BenchmarkVisit(b *testing.B) {
	initPartition()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		partition.Table().Visit(kvengine.VisitorFunc(func(_ *kvengine.BucketLock, _ *kvengine.Slot) bool {
			return true
		}))
	}
}

func init() {
	cfg := kvengine.DefaultPartitionConfig()
	cfg.Table.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	partition, err = kvengine.OpenPartition(cfg, nil)
	if err != nil {
		panic(err)
	}
}
