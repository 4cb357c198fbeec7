package profiling

import "testing"

func TestController_StopWithoutStartIsAnError(t *testing.T) {
	c := NewController(Config{Host: "127.0.0.1"}, nil)
	if _, err := c.Stop(nil); err == nil {
		t.Fatal("expected an error when Stop is called before Start")
	}
}
