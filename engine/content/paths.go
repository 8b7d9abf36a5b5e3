package content

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/oxygen/engine/core"
)

// ValidateVirtualPath enforces the logical path rules: absolute, '/'
// separated, no '\', no '..', no '//', no trailing '/' except the root,
// not empty.
func ValidateVirtualPath(vp string) error {
	if vp == "" {
		return fmt.Errorf("%w: virtual path is empty", core.ErrValidation)
	}
	if !strings.HasPrefix(vp, "/") {
		return fmt.Errorf("%w: virtual path %q must start with '/'", core.ErrValidation, vp)
	}
	if strings.ContainsRune(vp, '\\') {
		return fmt.Errorf("%w: virtual path %q contains '\\'", core.ErrValidation, vp)
	}
	if strings.Contains(vp, "//") {
		return fmt.Errorf("%w: virtual path %q contains '//'", core.ErrValidation, vp)
	}
	if vp != "/" && strings.HasSuffix(vp, "/") {
		return fmt.Errorf("%w: virtual path %q has a trailing '/'", core.ErrValidation, vp)
	}
	for _, seg := range strings.Split(vp[1:], "/") {
		if seg == ".." {
			return fmt.Errorf("%w: virtual path %q contains '..'", core.ErrValidation, vp)
		}
	}
	return nil
}

// ValidateRelPath enforces the container-relative path rules: no leading
// '/', no '\', no ':', no '..', no '//', not empty, no trailing '/'.
func ValidateRelPath(rp string) error {
	if rp == "" {
		return fmt.Errorf("%w: relative path is empty", core.ErrValidation)
	}
	if strings.HasPrefix(rp, "/") {
		return fmt.Errorf("%w: relative path %q must not start with '/'", core.ErrValidation, rp)
	}
	if strings.ContainsRune(rp, '\\') {
		return fmt.Errorf("%w: relative path %q contains '\\'", core.ErrValidation, rp)
	}
	if strings.ContainsRune(rp, ':') {
		return fmt.Errorf("%w: relative path %q contains ':'", core.ErrValidation, rp)
	}
	if strings.Contains(rp, "//") {
		return fmt.Errorf("%w: relative path %q contains '//'", core.ErrValidation, rp)
	}
	if strings.HasSuffix(rp, "/") {
		return fmt.Errorf("%w: relative path %q has a trailing '/'", core.ErrValidation, rp)
	}
	for _, seg := range strings.Split(rp, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: relative path %q contains '..'", core.ErrValidation, rp)
		}
	}
	return nil
}
