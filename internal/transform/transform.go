// Package transform applies user rename and caption templates to media metadata.
//
// Supported template variables:
//
//	{index}     zero-based offset of the item within the run
//	{name}      original file name without extension
//	{filename}  full file name
//	{ext}       extension without the dot
//	{size}      human readable file size (captions only)
package transform

import (
	"strconv"
	"strings"
)

// ApplyRename renders template against originalName. An empty template
// leaves the name untouched. The result is always sanitized.
func ApplyRename(originalName, template string, index int) string {
	if template == "" {
		return originalName
	}

	stem, ext := SplitExt(originalName)
	r := strings.NewReplacer(
		"{index}", strconv.Itoa(index),
		"{filename}", originalName,
		"{name}", stem,
		"{ext}", ext,
	)
	return SanitizeFilename(r.Replace(template))
}

// ApplyCaption renders a caption template. A nil template means no caption
// template is configured and reports ok=false so the caller keeps the
// original caption. A non-nil empty template yields an empty caption.
func ApplyCaption(template *string, fileName string, fileSize int64, index int) (caption string, ok bool) {
	if template == nil {
		return "", false
	}

	stem, ext := SplitExt(fileName)
	r := strings.NewReplacer(
		"{filename}", fileName,
		"{name}", stem,
		"{ext}", ext,
		"{size}", FormatSize(fileSize),
		"{index}", strconv.Itoa(index),
	)
	return r.Replace(*template), true
}

// SplitExt splits name at the last dot. Names without a dot have no extension.
func SplitExt(name string) (stem, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}
