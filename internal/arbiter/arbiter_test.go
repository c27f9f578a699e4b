// Copyright 2025 James Ross
package arbiter

import (
	"testing"
	"time"

	"github.com/juanmitaboada/redismultiplexer/internal/item"
	"github.com/stretchr/testify/require"
)

func key(t *testing.T, s string) item.Key {
	k, err := item.ParseKey(s)
	require.NoError(t, err)
	return k
}

func TestBypassesBufferWithoutKey(t *testing.T) {
	a := New(2*time.Second, nil, nil)
	go a.Run()
	defer a.Shutdown(false)

	out := Submit(a.Requests(), 0, nil, []byte("no-key-item"))
	require.Equal(t, [][]byte{[]byte("no-key-item")}, out)
}

func TestHoldsDownUntilAged(t *testing.T) {
	a := New(50*time.Millisecond, nil, nil)
	go a.Run()
	defer a.Shutdown(false)

	k := key(t, "5")
	out := Submit(a.Requests(), 0, &k, []byte("v5"))
	require.Empty(t, out)

	time.Sleep(80 * time.Millisecond)
	out = Submit(a.Requests(), 0, nil, nil)
	require.Equal(t, [][]byte{[]byte("v5")}, out)
}

func TestReleasesInNonDecreasingKeyOrder(t *testing.T) {
	a := New(30*time.Millisecond, nil, nil)
	go a.Run()
	defer a.Shutdown(false)

	for _, v := range []string{"5", "1", "3", "4", "2"} {
		k := key(t, v)
		Submit(a.Requests(), 0, &k, []byte(v))
	}

	time.Sleep(60 * time.Millisecond)
	out := Submit(a.Requests(), 0, nil, nil)
	got := make([]string, 0, len(out))
	for _, b := range out {
		got = append(got, string(b))
	}
	require.Equal(t, []string{"1", "2", "3", "4", "5"}, got)
}

func TestDrainReleasesRegardlessOfAge(t *testing.T) {
	a := New(time.Hour, nil, nil)
	go a.Run()

	k := key(t, "9")
	Submit(a.Requests(), 0, &k, []byte("v9"))

	a.Shutdown(true) // drain mode
	time.Sleep(5 * time.Millisecond)
	out := Submit(a.Requests(), 0, nil, nil)
	require.Equal(t, [][]byte{[]byte("v9")}, out)

	a.Shutdown(false)
}

func TestSizeChannelEmitsAndSentinelOnExit(t *testing.T) {
	sizeCh := make(chan *int, 8)
	a := New(time.Hour, sizeCh, nil)
	go a.Run()

	k := key(t, "1")
	Submit(a.Requests(), 0, &k, []byte("v"))
	n := <-sizeCh
	require.NotNil(t, n)
	require.Equal(t, 1, *n)

	a.Shutdown(false)
	sentinel := <-sizeCh
	require.Nil(t, sentinel)
}
