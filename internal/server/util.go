package server

import (
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// processIDPattern matches ids the API accepts in a path segment: a leading
// alphanumeric, then up to 127 of [A-Za-z0-9._-].
var processIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// normalizeBase turns "api", "/api/" or " /api " into "/api"; "" and "/"
// mean the root.
func normalizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	bp = path.Clean("/" + bp)
	if bp == "/" {
		return ""
	}
	return bp
}

func validProcessID(id string) bool {
	return processIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// processID reads and validates the :id path parameter, answering 400
// itself when it is unusable.
func processID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !validProcessID(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid process id " + quoteID(id)})
		return "", false
	}
	return id, true
}

func quoteID(id string) string {
	if len(id) > 32 {
		id = id[:32] + "..."
	}
	return "\"" + id + "\""
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}
