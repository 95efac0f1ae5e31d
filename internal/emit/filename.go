package emit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfeidau/gopack/internal/cache"
)

var contentHashRe = regexp.MustCompile(`\[contenthash(?::(\d+))?\]`)

// ContentHash is the hex crc64-NVME checksum of data.
func ContentHash(data []byte) string {
	return fmt.Sprintf("%016x", cache.Checksum(data))
}

// expandFilename substitutes [name], [contenthash] and [contenthash:N].
func expandFilename(template, name string, content []byte) string {
	out := strings.ReplaceAll(template, "[name]", name)

	if !strings.Contains(out, "[contenthash") {
		return out
	}

	hash := ContentHash(content)
	return contentHashRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := contentHashRe.FindStringSubmatch(m)
		if sub[1] == "" {
			return hash
		}
		n, err := strconv.Atoi(sub[1])
		if err != nil || n <= 0 || n >= len(hash) {
			return hash
		}
		return hash[:n]
	})
}

// cssFilename derives the stylesheet name for a bundle when no template is
// configured, [name].css next to the bundle.
func cssFilename(template, name string, content []byte) string {
	if template == "" {
		template = "[name].css"
	}
	return expandFilename(template, name, content)
}
