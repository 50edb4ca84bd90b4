//go:build !windows

package workbook

func isSharingViolation(error) bool { return false }
