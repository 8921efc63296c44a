/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func IsCryptoEnable() bool {
	return getBool(cryptoEnable, true)
}

// GetCryptoKey reads the token key material from the key file created during
// deployment. Returns empty when the file is absent.
func GetCryptoKey() string {
	path := getString(cryptoSecretPath, "/etc/vault/crypto.key")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func GetDataRoot() string {
	return getString(dataRoot, "/var/lib/vault")
}

func GetVersionFile() string {
	return getString(versionFile, filepath.Join(GetDataRoot(), "VERSION"))
}

func GetServerPort() int {
	return getInt(serverPort, 8080)
}

func GetTokenExpire() time.Duration {
	return time.Duration(getInt(serverTokenExpire, 86400)) * time.Second
}

func IsGinDebugMode() bool {
	return getBool(serverGinDebugMode, false)
}

func GetBootstrapAdminEmail() string {
	return getString(serverBootstrapEmail, "admin@vault.local")
}

// GetBootstrapAdminPassword reads the provisioning-time password file for the
// initial admin account. Empty when the file is absent.
func GetBootstrapAdminPassword() string {
	path := getString(serverBootstrapSecret, "/etc/vault/bootstrap-admin.secret")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func GetDBName() string {
	return getString(dbName, "vault")
}

func GetDBUser() string {
	return getString(dbUser, "vault")
}

func GetDBPassword() string {
	return getString(dbPassword, "")
}

func GetDBHost() string {
	return getString(dbHost, "127.0.0.1")
}

func GetDBPort() int {
	return getInt(dbPort, 5432)
}

func GetDBSSLMode() string {
	return getString(dbSSLMode, "disable")
}

func GetDBMaxOpenConns() int {
	return getInt(dbMaxOpenConns, 16)
}

func GetDBMaxIdleConns() int {
	return getInt(dbMaxIdleConns, 4)
}

func GetEngineBaseURL() string {
	return getString(engineBaseURL, "http://127.0.0.1:8000")
}

func GetEngineHealthPath() string {
	return getString(engineHealthPath, "/health")
}

// GetEngineConfigPath is the YAML file owned by the adapter manager.
func GetEngineConfigPath() string {
	return getString(engineConfigPath, filepath.Join(GetDataRoot(), "config", "gpu-config.yaml"))
}

func GetEngineRestartCommand() string {
	return getString(engineRestartCommand, "systemctl restart vault-inference.service")
}

func GetEngineConnectTimeout() time.Duration {
	return time.Duration(getInt(engineConnectTimeout, 5)) * time.Second
}

func GetEngineReadTimeout() time.Duration {
	return time.Duration(getInt(engineReadTimeout, 120)) * time.Second
}

func GetEngineWriteTimeout() time.Duration {
	return time.Duration(getInt(engineWriteTimeout, 5)) * time.Second
}

func GetTrainingPython() string {
	return getString(workerTrainingPython, "/opt/vault/venvs/training/bin/python")
}

func GetTrainingScript() string {
	return getString(workerTrainingScript, "/opt/vault/workers/train.py")
}

func GetEvalPython() string {
	return getString(workerEvalPython, "/opt/vault/venvs/eval/bin/python")
}

func GetEvalScript() string {
	return getString(workerEvalScript, "/opt/vault/workers/eval.py")
}

// GetStatusDir is the per-job status directory root. Each job gets
// {status_dir}/{job_id}/status.json.
func GetStatusDir() string {
	return getString(workerStatusDir, filepath.Join(GetDataRoot(), "status"))
}

func GetTerminateGrace() time.Duration {
	return time.Duration(getInt(workerGraceSeconds, 30)) * time.Second
}

func GetAdapterOutputDir() string {
	return getString(workerAdapterOutputs, filepath.Join(GetDataRoot(), "adapters"))
}

func GetModelDir() string {
	return getString(workerModelDir, filepath.Join(GetDataRoot(), "models"))
}

func GetDatasetDir() string {
	return getString(workerDatasetDir, filepath.Join(GetDataRoot(), "datasets"))
}

func GetEvalDatasetDir() string {
	return getString(workerEvalDatasetsDir, filepath.Join(GetDataRoot(), "eval-datasets"))
}

func GetQuarantineRoot() string {
	return getString(quarantineRoot, filepath.Join(GetDataRoot(), "quarantine"))
}

func GetClamSocket() string {
	return getString(quarantineClamSocket, "/run/clamav/clamd.sock")
}

func GetUpdateRoot() string {
	return getString(updateRoot, filepath.Join(GetDataRoot(), "updates"))
}

func GetUpdatePublicKeyPath() string {
	return getString(updatePublicKeyPath, "/etc/vault/update-signing.pub")
}

// GetUpdateInstallRoot is the directory whose component subtrees an update
// replaces (code, configuration, containers, signatures).
func GetUpdateInstallRoot() string {
	return getString(updateInstallRoot, "/opt/vault")
}

func GetLdapBindPasswordPath() string {
	return getString(ldapSecretPath, "/etc/vault/ldap-bind.secret")
}
