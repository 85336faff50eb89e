// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pyconfig implements the subset of configparser.py's INI-file grammar needed to read a
// wheel's entry_points.txt: section headers, "key = value" / "key : value" pairs, indentation-
// continued multi-line values, and full-line or inline comments.
package pyconfig

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

type Config map[string]ConfigSection

type ConfigSection map[string]string

type ConfigParser struct {
	Delimiters            []string
	CommentPrefixes       []string
	InlineCommentPrefixes []string

	Strict             bool
	EmptyLinesInValues bool

	// OptionTransform normalizes keys (configparser.py lowercases them by default).
	OptionTransform func(string) string
	// Interpolate transforms values after parsing; NoInterpolation is a no-op.
	Interpolate func(Config, string) (string, error)
}

func NewConfigParser() *ConfigParser {
	return &ConfigParser{
		Delimiters:            []string{"=", ":"},
		CommentPrefixes:       []string{"#", ";"},
		InlineCommentPrefixes: []string{},

		Strict:             true,
		EmptyLinesInValues: true,

		OptionTransform: strings.ToLower,
		Interpolate:     NoInterpolation,
	}
}

func (p *ConfigParser) Parse(fp io.Reader) (Config, error) {
	config := make(Config)

	var (
		curIndentLevel int
		curSection     ConfigSection
		curKey         string
		curVal         []string
	)

	flushKV := func() {
		if curVal != nil {
			curSection[curKey] = strings.TrimRight(strings.Join(curVal, "\n"), "\n")
			curKey = ""
			curVal = nil
		}
	}

	fpLines := bufio.NewReader(fp)
	lineno := 0
	keepGoing := true
	for keepGoing {
		line, err := fpLines.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			keepGoing = false
		}
		lineno++

		commentStart := len(line)
		for _, commentPrefix := range p.InlineCommentPrefixes {
			index := strings.Index(line, commentPrefix)
			if index > 0 && index < commentStart {
				commentStart = index
			}
		}
		for _, commentPrefix := range p.CommentPrefixes {
			if strings.HasPrefix(strings.TrimSpace(line), commentPrefix) {
				commentStart = 0
				break
			}
		}
		value := strings.TrimSpace(line[:commentStart])

		if value == "" {
			if p.EmptyLinesInValues {
				if curVal != nil && commentStart == len(line) {
					curVal = append(curVal, value)
				}
			} else {
				curIndentLevel = 0
			}
			continue
		}

		lineIndentLevel := 0
		for i, r := range line {
			if !unicode.IsSpace(r) {
				lineIndentLevel = i
				break
			}
		}
		switch {
		case curVal != nil && lineIndentLevel > 0 && lineIndentLevel > curIndentLevel:
			curVal = append(curVal, value)
		case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
			flushKV()
			curIndentLevel = lineIndentLevel
			sectName := strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")
			if _, exists := config[sectName]; !exists {
				config[sectName] = make(ConfigSection)
			} else if p.Strict {
				return nil, fmt.Errorf("line %d: duplicate section name %q", lineno, sectName)
			}
			curSection = config[sectName]
		default:
			flushKV()
			curIndentLevel = lineIndentLevel
			if curSection == nil {
				return nil, fmt.Errorf("line %d: no section header", lineno)
			}
			sepPos := len(value)
			sepLen := 0
			for _, sep := range p.Delimiters {
				if index := strings.Index(value, sep); index >= 0 && index < sepPos {
					sepPos = index
					sepLen = len(sep)
				}
			}
			if sepPos == len(value) {
				return nil, fmt.Errorf("line %d: invalid line: %q", lineno, value)
			}
			curKey = p.OptionTransform(strings.TrimSpace(value[:sepPos]))
			curVal = []string{strings.TrimSpace(value[sepPos+sepLen:])}
			if _, exists := curSection[curKey]; p.Strict && exists {
				return nil, fmt.Errorf("line %d: duplicate option name %q", lineno, curKey)
			}
		}
	}
	flushKV()

	for sect := range config {
		for key, val := range config[sect] {
			var err error
			config[sect][key], err = p.Interpolate(config, val)
			if err != nil {
				return nil, err
			}
		}
	}

	return config, nil
}

func NoInterpolation(_ Config, val string) (string, error) {
	return val, nil
}
