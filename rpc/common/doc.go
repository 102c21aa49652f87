// Package common provides the types shared by all Artic Base packages.
//
// Key Components:
//
//   - Wire structures: RequestPacket, RequestParameter, DataPacket and ResponseMethod
//     together with their fixed sizes and the control command names.
//
//   - ArticResult / ParameterType: the result tags of response frames and the
//     parameter type tags of requests.
//
//   - ResultError: a failed method result code. Errors whose description reports a
//     read past the end of a file match ErrOutOfBounds.
//
//   - ClientConfig / CacheConfig: session and cache configuration with defaults
//     and validation.
//
//   - Logger: custom formatting for the dragonboat logger facade used by every package.
package common
