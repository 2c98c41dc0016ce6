package xslot

import "github.com/taoyao-code/xslot/internal/xsloterr"

// 稳定错误码，跨版本保持不变
const (
	CodeOK             = xsloterr.CodeOK
	CodeInvalidParam   = xsloterr.CodeInvalidParam
	CodeTimeout        = xsloterr.CodeTimeout
	CodeCRC            = xsloterr.CodeCRC
	CodeNoMemory       = xsloterr.CodeNoMemory
	CodeBusy           = xsloterr.CodeBusy
	CodeOffline        = xsloterr.CodeOffline
	CodeNoDevice       = xsloterr.CodeNoDevice
	CodeNotInitialized = xsloterr.CodeNotInitialized
	CodeSendFailed     = xsloterr.CodeSendFailed
)

// Code 将错误映射为稳定整数码，nil 返回 CodeOK
func Code(err error) int { return xsloterr.Code(err) }

// Strerror 返回错误码的简短描述
func Strerror(code int) string { return xsloterr.Strerror(code) }
