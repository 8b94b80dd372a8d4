package storage_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/kvcheck/internal/random"
	"github.com/luma/kvcheck/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	ctx := context.Background()

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore(0)
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("refuses writes once closed", func() {
			store := storage.NewInmemoryStore(0)
			Expect(store.Close()).To(Succeed())

			Expect(store.Set(ctx, "foo", []byte("bar"))).To(MatchError(storage.ErrClosed))
		})
	})

	It("an empty inmemory store backs up to []", func() {
		store := storage.NewInmemoryStore(0)
		defer store.Close()

		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`[]`))
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			store := storage.NewInmemoryStore(0)
			defer store.Close()

			Expect(store.Set(ctx, "foo", []byte("bar"))).To(Succeed())
			Expect(store.Get(ctx, "foo")).To(Equal([]byte("bar")))
		})

		It("returns ErrNotFound for a key that was never written", func() {
			store := storage.NewInmemoryStore(0)
			defer store.Close()

			_, err := store.Get(ctx, "foo")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("replaces the value and size of an existing key", func() {
			store := storage.NewInmemoryStore(0)
			defer store.Close()

			Expect(store.Set(ctx, "foo", []byte("bar"))).To(Succeed())
			Expect(store.Set(ctx, "foo", []byte("bazbaz"))).To(Succeed())

			Expect(store.Get(ctx, "foo")).To(Equal([]byte("bazbaz")))
			Expect(store.Stats()).To(Equal(storage.Stats{
				Keys:     1,
				Bytes:    6,
				MaxBytes: storage.DefaultMaxBytes,
			}))
		})

		It("keeps many random values intact", func() {
			store := storage.NewInmemoryStore(0)
			defer store.Close()

			gen := random.New(11)
			values := map[string]string{}
			for n := 0; n < 100; n++ {
				key, value := gen.String(20), gen.String(1024)
				values[key] = value
				Expect(store.Set(ctx, key, []byte(value))).To(Succeed())
			}

			for key, value := range values {
				Expect(store.Get(ctx, key)).To(Equal([]byte(value)))
			}
		})
	})

	Describe("eviction", func() {
		It("evicts the oldest keys until the new value fits", func() {
			store := storage.NewInmemoryStore(10)
			defer store.Close()

			Expect(store.Set(ctx, "a", []byte("1234"))).To(Succeed())
			Expect(store.Set(ctx, "b", []byte("1234"))).To(Succeed())
			Expect(store.Set(ctx, "c", []byte("1234"))).To(Succeed())

			_, err := store.Get(ctx, "a")
			Expect(err).To(MatchError(storage.ErrNotFound))
			Expect(store.Get(ctx, "b")).To(Equal([]byte("1234")))
			Expect(store.Get(ctx, "c")).To(Equal([]byte("1234")))

			stats := store.Stats()
			Expect(stats.Bytes).To(Equal(8))
			Expect(stats.Evictions).To(Equal(uint64(1)))
		})

		It("treats a rewritten key as the newest", func() {
			store := storage.NewInmemoryStore(10)
			defer store.Close()

			Expect(store.Set(ctx, "a", []byte("1234"))).To(Succeed())
			Expect(store.Set(ctx, "b", []byte("1234"))).To(Succeed())
			Expect(store.Set(ctx, "a", []byte("1234"))).To(Succeed())
			Expect(store.Set(ctx, "c", []byte("1234"))).To(Succeed())

			_, err := store.Get(ctx, "b")
			Expect(err).To(MatchError(storage.ErrNotFound))
			Expect(store.Get(ctx, "a")).To(Equal([]byte("1234")))
		})

		It("rejects values larger than the store", func() {
			store := storage.NewInmemoryStore(10)
			defer store.Close()

			err := store.Set(ctx, "a", []byte("12345678901"))
			Expect(errors.Is(err, storage.ErrValueTooLarge)).To(BeTrue())
		})
	})

	Describe("Backup() / Restore()", func() {
		It("round trips the store in insertion order", func() {
			store := storage.NewInmemoryStore(0)
			defer store.Close()

			Expect(store.Set(ctx, "foo", []byte("bar"))).To(Succeed())
			Expect(store.Set(ctx, "a.b", []byte("c"))).To(Succeed())

			snapshot, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(gjson.GetBytes(snapshot, "#.key").Raw).To(Equal(`["foo","a.b"]`))
			Expect(gjson.GetBytes(snapshot, "0.value").String()).To(Equal("bar"))

			restored := storage.NewInmemoryStore(0)
			defer restored.Close()

			Expect(restored.Restore(snapshot)).To(Succeed())
			Expect(restored.Get(ctx, "foo")).To(Equal([]byte("bar")))
			Expect(restored.Get(ctx, "a.b")).To(Equal([]byte("c")))
			Expect(restored.Stats().Keys).To(Equal(2))
		})

		It("rejects snapshots that are not arrays of entries", func() {
			store := storage.NewInmemoryStore(0)
			defer store.Close()

			Expect(store.Restore([]byte(`{"foo":"bar"}`))).NotTo(Succeed())
			Expect(store.Restore([]byte(`not json`))).NotTo(Succeed())
			Expect(store.Restore([]byte(`[{"value":"bar"}]`))).NotTo(Succeed())
		})
	})
})
