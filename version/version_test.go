package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.3.0", Full())
	d := Details()
	assert.Equal(t, "v0.3.0", d["version"])
	assert.Equal(t, runtime.Version(), d["go_version"])
	assert.True(t, strings.HasPrefix(String(), "v0.3.0"))
	assert.True(t, strings.HasSuffix(String(), runtime.GOOS+"/"+runtime.GOARCH))
}
