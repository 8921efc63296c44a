/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

const (
	// global
	globalPrefix     = "global."
	cryptoEnable     = globalPrefix + "enable_crypto"
	cryptoSecretPath = globalPrefix + "crypto_key_path"
	dataRoot         = globalPrefix + "data_root"
	versionFile      = globalPrefix + "version_file"

	// server
	serverPrefix          = "server."
	serverPort            = serverPrefix + "port"
	serverTokenExpire     = serverPrefix + "token_expire_seconds"
	serverGinDebugMode    = serverPrefix + "gin_debug"
	serverBootstrapEmail  = serverPrefix + "bootstrap_admin_email"
	serverBootstrapSecret = serverPrefix + "bootstrap_password_path"

	// database
	dbPrefix       = "database."
	dbName         = dbPrefix + "name"
	dbUser         = dbPrefix + "user"
	dbPassword     = dbPrefix + "password"
	dbHost         = dbPrefix + "host"
	dbPort         = dbPrefix + "port"
	dbSSLMode      = dbPrefix + "ssl_mode"
	dbMaxOpenConns = dbPrefix + "max_open_conns"
	dbMaxIdleConns = dbPrefix + "max_idle_conns"

	// inference engine backend
	enginePrefix         = "engine."
	engineBaseURL        = enginePrefix + "base_url"
	engineHealthPath     = enginePrefix + "health_path"
	engineConfigPath     = enginePrefix + "config_path"
	engineRestartCommand = enginePrefix + "restart_command"
	engineConnectTimeout = enginePrefix + "connect_timeout_seconds"
	engineReadTimeout    = enginePrefix + "read_timeout_seconds"
	engineWriteTimeout   = enginePrefix + "write_timeout_seconds"

	// workers
	workerPrefix          = "worker."
	workerTrainingPython  = workerPrefix + "training_python"
	workerTrainingScript  = workerPrefix + "training_script"
	workerEvalPython      = workerPrefix + "eval_python"
	workerEvalScript      = workerPrefix + "eval_script"
	workerStatusDir       = workerPrefix + "status_dir"
	workerGraceSeconds    = workerPrefix + "terminate_grace_seconds"
	workerAdapterOutputs  = workerPrefix + "adapter_output_dir"
	workerModelDir        = workerPrefix + "model_dir"
	workerDatasetDir      = workerPrefix + "dataset_dir"
	workerEvalDatasetsDir = workerPrefix + "eval_dataset_dir"

	// quarantine store
	quarantinePrefix     = "quarantine."
	quarantineRoot       = quarantinePrefix + "root"
	quarantineClamSocket = quarantinePrefix + "clamav_socket"

	// updates
	updatePrefix        = "update."
	updateRoot          = updatePrefix + "root"
	updatePublicKeyPath = updatePrefix + "public_key_path"
	updateInstallRoot   = updatePrefix + "install_root"

	// ldap
	ldapSecretPath = "ldap.bind_password_path"
)
