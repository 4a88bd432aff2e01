package response

import "github.com/gin-gonic/gin"

const (
	CodeOK               = 0
	CodeBadRequest       = 40000
	CodeUnsupportedType  = 40001
	CodeDecodeFailed     = 40002
	CodeUploadTooLarge   = 40003
	CodeInternalServer   = 50000
	CodeInferenceFailed  = 50001
	CodeReloadFailed     = 50002
	CodeModelUnavailable = 50300
)

// ErrorBody is the error payload. The web client reads `detail`.
type ErrorBody struct {
	Detail string `json:"detail"`
	Code   int    `json:"code"`
}

// OK writes data as the top-level body; successful responses are not wrapped.
func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Error(c *gin.Context, httpStatus, code int, detail string) {
	c.AbortWithStatusJSON(httpStatus, ErrorBody{
		Detail: detail,
		Code:   code,
	})
}
