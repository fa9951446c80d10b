package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/sbinet/npyio"
	"github.com/tarstars/gbt_predict/gbp"
)

//PredictConfig describes one batch prediction run.
type PredictConfig struct {
	FileNameModel    string `json:"filename_model"`
	FileNameFeatures string `json:"filename_features"`
	FileNameOutput   string `json:"filename_output"`
	TreesNumber      int    `json:"trees_number"`
	Threads          int    `json:"threads"`
	Predictor        string `json:"predictor"`
	Approximate      bool   `json:"approximate"`
}

//RenderConfig describes a tree rendering run.
type RenderConfig struct {
	FileNameModel     string `json:"filename_model"`
	DumpPrefix        string `json:"dump_prefix"`
	FigureType        string `json:"figure_type"`
	PicturesDirectory string `json:"pictures_directory"`
}

func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(out); err != nil {
		log.Fatal(err)
	}
}

func loadInputs(cfg PredictConfig) (*gbp.Model, *gbp.DenseAdapter, gbp.Predictor) {
	log.Print("load model <", cfg.FileNameModel, ">")
	model, err := gbp.LoadModel(cfg.FileNameModel)
	if err != nil {
		log.Fatal(err)
	}

	log.Print("load features <", cfg.FileNameFeatures, ">")
	features, err := gbp.ReadNpy(cfg.FileNameFeatures)
	if err != nil {
		log.Fatal(err)
	}

	name := cfg.Predictor
	if name == "" {
		name = "cpu"
	}
	predictor, err := gbp.NewPredictor(name, gbp.Context{Threads: cfg.Threads}, nil)
	if err != nil {
		log.Fatal(err)
	}

	return model, gbp.FromDense(features), predictor
}

func writeNpy(filename string, value interface{}) {
	dest, err := os.Create(filename)
	if err != nil {
		log.Fatal(err)
	}
	defer dest.Close()

	if err := npyio.Write(dest, value); err != nil {
		log.Fatal(err)
	}
}

func predictMargins(configName string) {
	var cfg PredictConfig
	decodeConfig(configName, &cfg)

	model, matrix, predictor := loadInputs(cfg)
	out := predictor.InitOutputs(matrix.Rows(), model)
	if err := predictor.PredictBatch(matrix, out, model, 0, cfg.TreesNumber); err != nil {
		log.Fatal(err)
	}

	log.Print("save margins <", cfg.FileNameOutput, ">")
	writeNpy(cfg.FileNameOutput, out)
}

func predictLeaves(configName string) {
	var cfg PredictConfig
	decodeConfig(configName, &cfg)

	model, matrix, predictor := loadInputs(cfg)
	leaves, err := predictor.PredictLeaf(matrix, model)
	if err != nil {
		log.Fatal(err)
	}

	leavesOut := make([]int64, len(leaves))
	for i, leaf := range leaves {
		leavesOut[i] = int64(leaf)
	}
	log.Printf("save %d leaf indices, row stride %d <%s>", len(leavesOut), model.NumTrees(), cfg.FileNameOutput)
	writeNpy(cfg.FileNameOutput, leavesOut)
}

func predictContributions(configName string) {
	var cfg PredictConfig
	decodeConfig(configName, &cfg)

	model, matrix, predictor := loadInputs(cfg)
	contribs, err := predictor.PredictContribution(matrix, model, cfg.Approximate)
	if err != nil {
		log.Fatal(err)
	}

	log.Print("save contributions of shape ", contribs.Shape(), " <", cfg.FileNameOutput, ">")
	writeNpy(cfg.FileNameOutput, contribs.Data().([]float64))
}

func renderTrees(configName string) {
	var cfg RenderConfig
	decodeConfig(configName, &cfg)

	model, err := gbp.LoadModel(cfg.FileNameModel)
	if err != nil {
		log.Fatal(err)
	}
	if err := model.RenderTrees(cfg.DumpPrefix, cfg.FigureType, cfg.PicturesDirectory); err != nil {
		log.Fatal(err)
	}
}

func main() {
	mode := flag.String("mode", "margins", "margins, leaves, contributions or render")
	config := flag.String("config", "", "path to the JSON run config")
	flag.Parse()

	if *config == "" {
		log.Fatal("a -config file is required")
	}

	switch *mode {
	case "margins":
		predictMargins(*config)
	case "leaves":
		predictLeaves(*config)
	case "contributions":
		predictContributions(*config)
	case "render":
		renderTrees(*config)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}
