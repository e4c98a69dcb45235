// Package config loads b2-fuse's YAML configuration file and merges CLI
// flag overrides on top of it, following the load-then-override pattern of
// the original b2fuse_main.py's load_config plus argparse overrides.
package config
