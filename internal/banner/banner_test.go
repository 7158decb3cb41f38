package banner

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFprintAlignsLabels(t *testing.T) {
	var buf bytes.Buffer
	Fprint(&buf, "CALL MANAGER", []ConfigLine{
		{Label: "gRPC", Value: ":9190"},
		{Label: "NATS URL", Value: ""},
	})

	out := buf.String()
	assert.Contains(t, out, "CALL MANAGER\n")
	assert.Contains(t, out, "  gRPC     : :9190\n")
	assert.Contains(t, out, "  NATS URL : -\n")
	assert.Contains(t, out, "Ready.")
}
