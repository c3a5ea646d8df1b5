package orchestrator

import (
	"reflect"
	"testing"
)

func TestSentenceChunker_SplitsAcrossDeltas(t *testing.T) {
	var c sentenceChunker
	var got []string
	for _, delta := range []string{"It is sun", "ny today. Tomorrow", " looks cloudy.", " Bring an umb"} {
		got = append(got, c.Add(delta)...)
	}
	want := []string{"It is sunny today.", "Tomorrow looks cloudy."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if tail := c.Flush(); tail != "Bring an umb" {
		t.Fatalf("tail = %q", tail)
	}
	if tail := c.Flush(); tail != "" {
		t.Fatalf("second flush = %q", tail)
	}
}

func TestSentenceChunker_NewlinesSplit(t *testing.T) {
	var c sentenceChunker
	got := c.Add("first line\nsecond line\n\n")
	want := []string{"first line", "second line"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
