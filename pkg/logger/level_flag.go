/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var namedLevels = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

// StringToLevel accepts a level name or a positive logr verbosity (1 is debug, 2 is more verbose...).
func StringToLevel(value string, defaultLevel zapcore.Level) (zapcore.Level, error) {
	if level, found := namedLevels[strings.ToLower(strings.TrimSpace(value))]; found {
		return level, nil
	}

	verbosity, convErr := strconv.Atoi(value)
	if convErr != nil || verbosity <= 0 {
		return defaultLevel, fmt.Errorf("invalid log level \"%s\"", value)
	}

	// zap counts logr verbosity downwards from the debug level.
	return zapcore.Level(int8(-verbosity)), nil
}

// levelFlag is the --verbosity value; it forwards every accepted level to apply.
type levelFlag struct {
	apply func(zapcore.Level)
	level *zapcore.Level
}

func newLevelFlag(apply func(zapcore.Level)) *levelFlag {
	return &levelFlag{apply: apply}
}

func (f *levelFlag) Set(value string) error {
	level, parseErr := StringToLevel(value, zapcore.InfoLevel)
	if parseErr != nil {
		return parseErr
	}
	f.level = &level
	f.apply(level)
	return nil
}

// String reports the applied level, so "-v=DEBUG" and "-v=1" both read back as "debug".
func (f *levelFlag) String() string {
	if f.level == nil {
		return ""
	}
	return f.level.String()
}

func (*levelFlag) Type() string {
	return "level"
}

var _ pflag.Value = (*levelFlag)(nil)
