package inferclient

import "testing"

func TestJSONCodec_RoundTrip(t *testing.T) {
	c := jsonCodec{}
	if c.Name() != "json" {
		t.Errorf("Name() = %q, want json", c.Name())
	}

	in := inferRequest{Inputs: []wireInput{{Name: "INPUT0", Shape: []int{1}, Datatype: "BYTES", Data: []byte{1, 2}}}}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out inferRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out.Inputs) != 1 || out.Inputs[0].Name != "INPUT0" {
		t.Errorf("round trip mismatch: got %+v", out)
	}
}
