package conf

import "github.com/spf13/viper"

// setDefaultConfig registers a default for every key so that environment
// overrides resolve even when the key is absent from the config file.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "birdsed")
	v.SetDefault("main.seed", 1213)
	v.SetDefault("main.logdir", "runs")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/birdsed.log")
	v.SetDefault("logging.file_output.max_size", 100)
	v.SetDefault("logging.file_output.max_age", 30)
	v.SetDefault("logging.file_output.max_rotated_files", 10)
	v.SetDefault("logging.file_output.compress", true)
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("audio.samplerate", 32000)
	v.SetDefault("audio.root", "data/train_audio_resampled")

	v.SetDefault("data.traincsv", "data/train.csv")
	v.SetDefault("data.additionallabels", "")
	v.SetDefault("data.skiplist", "data/skip.txt")
	v.SetDefault("data.softlabeldir", "data/softlabels")
	v.SetDefault("data.includebackground", false)
	v.SetDefault("data.countries", []string{})

	v.SetDefault("dataset.name", "label-correction")
	v.SetDefault("dataset.period", 30.0)
	v.SetDefault("dataset.nsegments", 600)
	v.SetDefault("dataset.threshold", 0.5)
	v.SetDefault("dataset.cachettl", 0)

	v.SetDefault("loader.batchsize", 16)
	v.SetDefault("loader.shuffle", true)
	v.SetDefault("loader.prefetch", 2)

	v.SetDefault("model.arch", "linear-sed")
	v.SetDefault("model.framehop", 0.05)
	v.SetDefault("model.bands", 16)
	v.SetDefault("model.modelpath", "")
	v.SetDefault("model.frames", 100)
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.usexnnpack", true)

	v.SetDefault("train.epochs", 50)
	v.SetDefault("train.mainmetric", "mAP")
	v.SetDefault("train.emainterval", 10)
	v.SetDefault("train.emaaverage", "mean")
	v.SetDefault("train.emadecay", 0.999)

	v.SetDefault("criterion.name", "sed-bce")
	v.SetDefault("criterion.framewiseweight", 0.5)

	v.SetDefault("optimizer.name", "adam")
	v.SetDefault("optimizer.lr", 0.001)
	v.SetDefault("optimizer.momentum", 0.9)
	v.SetDefault("optimizer.weightdecay", 0.0)
	v.SetDefault("optimizer.beta1", 0.9)
	v.SetDefault("optimizer.beta2", 0.999)
	v.SetDefault("optimizer.eps", 1e-8)

	v.SetDefault("scheduler.name", "cosine")
	v.SetDefault("scheduler.tmax", 10)
	v.SetDefault("scheduler.etamin", 1e-5)
	v.SetDefault("scheduler.stepsize", 10)
	v.SetDefault("scheduler.gamma", 0.1)

	v.SetDefault("split.name", "stratified-kfold")
	v.SetDefault("split.nsplits", 5)
	v.SetDefault("split.folds", []int{})

	v.SetDefault("inference.batchsize", 32)
	v.SetDefault("inference.period", 5.0)
	v.SetDefault("inference.output", "segmentwise")
	v.SetDefault("inference.checkpoints", []string{})

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.threshold", 0.9)
	v.SetDefault("discovery.output", "data/additional_labels.json")

	v.SetDefault("detection.threshold", 0.5)
	v.SetDefault("detection.output", "detections.csv")
	v.SetDefault("detection.allclasses", false)

	v.SetDefault("prepare.inputdir", "data/train_audio")
	v.SetDefault("prepare.outputdir", "data/train_audio_resampled")
	v.SetDefault("prepare.samplerate", 32000)
	v.SetDefault("prepare.workers", 0)
	v.SetDefault("prepare.splits", 8)

	v.SetDefault("datastore.enabled", true)
	v.SetDefault("datastore.path", "birdsed.db")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", "birdsed.prom")
	v.SetDefault("metrics.listen", "")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 30)
	v.SetDefault("monitor.memorywarning", 85.0)
	v.SetDefault("monitor.memorycritical", 95.0)
	v.SetDefault("monitor.diskwarning", 85.0)
	v.SetDefault("monitor.diskcritical", 95.0)
	v.SetDefault("monitor.hysteresis", 5.0)
	v.SetDefault("monitor.paths", []string{})

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
