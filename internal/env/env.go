package env

import (
	"os"
	"path/filepath"
)

// WorkDir returns the root of apkbuild's on-disk state, <UserCacheDir>/.apkbuild.
// APKBUILD_HOME overrides it.
func WorkDir() (string, error) {
	if dir := os.Getenv("APKBUILD_HOME"); dir != "" {
		return dir, nil
	}
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".apkbuild"), nil
}

// CacheDir returns the build cache directory, creating it with 0700
// permissions. APKBUILD_CACHE_DIR overrides the default <WorkDir>/cache.
func CacheDir() (string, error) {
	if dir := os.Getenv("APKBUILD_CACHE_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0700)
	}
	return subdir("cache")
}

// DownloadDir returns the directory source archives are downloaded to.
func DownloadDir() (string, error) {
	return subdir("downloads")
}

// BuildDir returns the scratch directory recipe sources are unpacked into.
func BuildDir() (string, error) {
	return subdir("build")
}

func subdir(name string) (string, error) {
	workDir, err := WorkDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(workDir, name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
