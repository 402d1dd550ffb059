// Package attributes normalizes node attributes into an immutable Snapshot.
//
// Raw attributes follow the shape of a Chef node: platform, platform_version,
// optional platform_family, a run_list and one sub-tree per cookbook. Resolve
// applies the cookbook defaults, validates the result and looks the family up
// in the platform table, which holds every per-platform difference (paths,
// module lists, legacy services, service names) in one place.
//
// A platform with no known family falls back to DefaultFamily for paths. A
// family that is declared but not in the table is an error.
package attributes
