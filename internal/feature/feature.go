package feature

import "os"

// Feature defines an application feature toggled by a specific environment variable.
type Feature struct {
	// EnvVariable defines the name of the corresponding environment variable.
	EnvVariable    string
	defaultEnabled bool
}

// Enabled reads the environment variable responsible for the feature flag. If FF is disabled by default, the
// environment variable needs to be `true` to explicitly enable it. If FF is enabled by default, variable needs to be
// `false` to explicitly disable it.
func (f Feature) Enabled() bool {
	env := os.Getenv(f.EnvVariable)

	if f.defaultEnabled {
		return env != "false"
	}

	return env == "true"
}

// RequireUploadETag makes uploads answered without an ETag count as failed.
// Some S3-compatible gateways never return one, disable it to accept their
// uploads based on the stored size alone.
var RequireUploadETag = Feature{
	defaultEnabled: true,
	EnvVariable:    "BLOBSTORE_FF_REQUIRE_UPLOAD_ETAG",
}

// testFeature is used for testing purposes only
var testFeature = Feature{
	EnvVariable: "BLOBSTORE_FF_TEST",
}

var all = []Feature{
	testFeature,
	RequireUploadETag,
}

// KnownEnvVar evaluates whether the input string matches the name of one of the known feature flag env vars.
func KnownEnvVar(name string) bool {
	for _, f := range all {
		if f.EnvVariable == name {
			return true
		}
	}

	return false
}
