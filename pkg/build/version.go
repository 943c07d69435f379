package build

// Version is the version of the upload service, overridden at build time with
// -ldflags "-X github.com/storacha/upload-service/pkg/build.Version=...".
var Version = "v0.0.0-dev"
