package validation

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate decodes the JSON body into out and validates it. On
// failure it answers 400 with {"error": "invalid_input", "msg": ...} plus a
// per field "fields" map when validation tags failed, and returns the error
// so the handler can stop.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_input",
			"msg":   "malformed request body: " + err.Error(),
		})
		return err
	}

	if err := v.Struct(out); err != nil {
		fields := fieldErrors(err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid_input",
			"msg":    summary(fields),
			"fields": fields,
		})
		return err
	}
	return nil
}

// fieldErrors keys each failed tag by its JSON-ish field path.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	ve, ok := err.(validatorv10.ValidationErrors)
	if !ok {
		out["body"] = err.Error()
		return out
	}
	for _, fe := range ve {
		name := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			out[name] = fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		} else {
			out[name] = "failed " + fe.Tag()
		}
	}
	return out
}

func summary(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "invalid " + strings.Join(names, ", ")
}
