/*
Package config loads and validates the scheduler's YAML configuration.

Relative paths (work_dir, log_dir, command files) are resolved against
the config file's directory. Config index N selects the command file
variant "base_N.txt"; index 0 selects the base file itself.
*/
package config
