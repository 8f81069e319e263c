package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type user struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Age     int       `json:"age"`
	Created time.Time `json:"created"`
}

func sample() user {
	return user{ID: "1", Name: "Ada", Age: 36, Created: time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC)}
}

func checkRoundTrip(t *testing.T, name string, c Codec[user]) {
	t.Helper()
	in := sample()
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("%s encode: %v", name, err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("%s decode: %v", name, err)
	}
	if out.ID != in.ID || out.Name != in.Name || out.Age != in.Age || !out.Created.Equal(in.Created) {
		t.Fatalf("%s mismatch: %+v vs %+v", name, out, in)
	}
}

func TestStructCodecs(t *testing.T) {
	checkRoundTrip(t, "json", JSON[user]{})
	checkRoundTrip(t, "msgpack", Msgpack[user]{})
	checkRoundTrip(t, "cbor", MustCBOR[user](false))
	checkRoundTrip(t, "cbor-det", MustCBOR[user](true))
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	m := map[string]int{"z": 1, "a": 2, "m": 3, "b": 4}
	first, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, _ := c.Encode(m)
		if !bytes.Equal(b, first) {
			t.Fatalf("deterministic CBOR produced different bytes")
		}
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) })
	b, err := c.Encode(wrapperspb.String("hello"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decode(b)
	if err != nil || out.GetValue() != "hello" {
		t.Fatalf("decode: %v %v", out, err)
	}

	var zero Protobuf[*wrapperspb.StringValue]
	if _, err := zero.Decode(b); err == nil {
		t.Fatalf("zero Protobuf codec should refuse to decode")
	}
}

func TestRawCodecs(t *testing.T) {
	b, _ := Bytes{}.Encode([]byte{1, 2, 3})
	if out, _ := (Bytes{}).Decode(b); !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("bytes: %v", out)
	}
	s, _ := String{}.Encode("héllo")
	if out, _ := (String{}).Decode(s); out != "héllo" {
		t.Fatalf("string: %q", out)
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte("toolong")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	if out, err := c.Decode([]byte("ok")); err != nil || out != "ok" {
		t.Fatalf("small payload: %q %v", out, err)
	}
	unlimited := Limit[string]{Inner: String{}}
	if _, err := unlimited.Decode(bytes.Repeat([]byte("x"), 1<<16)); err != nil {
		t.Fatalf("MaxDecode 0 must disable the limit: %v", err)
	}
}
